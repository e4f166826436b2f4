package email

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// ReadHeader parses the header block at the start of r and returns its
// fields in message order. Folded values are unfolded.
func ReadHeader(r io.Reader) ([]Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return headerFields(h), nil
}

// ParseEnvelope builds message metadata (subject, addresses and headers)
// from raw RFC 5322 content. Only the header block is read.
func ParseEnvelope(raw []byte) (*Message, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	mh := mail.Header{Header: gomessage.Header{Header: h}}
	msg := &Message{Headers: headerFields(h)}
	if subject, err := mh.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mh.Get("Subject")
	}
	msg.From = headerAddresses(mh, "From")
	msg.To = headerAddresses(mh, "To")
	msg.Cc = headerAddresses(mh, "Cc")
	return msg, nil
}

func headerFields(h textproto.Header) []Header {
	var out []Header
	fields := h.Fields()
	for fields.Next() {
		out = append(out, Header{Name: fields.Key(), Value: unfold(fields.Value())})
	}
	return out
}

func headerAddresses(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	addrs := make([]Address, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, Address{Name: a.Name, Email: a.Address})
	}
	return addrs
}

func unfold(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	v = strings.ReplaceAll(v, "\r\n", "")
	return strings.ReplaceAll(v, "\n", "")
}
