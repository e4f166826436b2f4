// Package mime decomposes message bodies into text, HTML and attachments.
package mime

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Kind is the classification of a body part.
type Kind int

const (
	KindAttachment Kind = iota
	KindPlainText
	KindHTML
	KindMultipart
	KindNested
	KindOpaque
)

var kindNames = [...]string{"attachment", "text", "html", "multipart", "message", "opaque"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Classify returns the kind of a part and, for attachments, its filename.
// A non-blank filename makes any part an attachment. A part without a
// Content-Type header is plain text.
func Classify(h gomessage.Header) (Kind, string) {
	ah := mail.AttachmentHeader{Header: h}
	if name, _ := ah.Filename(); strings.TrimSpace(name) != "" {
		return KindAttachment, name
	}

	if !h.Has("Content-Type") {
		return KindPlainText, ""
	}
	t, _, err := h.ContentType()
	if err != nil {
		return KindOpaque, ""
	}
	switch {
	case t == "text/plain":
		return KindPlainText, ""
	case t == "text/html":
		return KindHTML, ""
	case strings.HasPrefix(t, "multipart/"):
		return KindMultipart, ""
	case t == "message/rfc822" || t == "message/global":
		return KindNested, ""
	}
	return KindOpaque, ""
}

// DecodeError reports a part whose content could not be read. Part is the
// dotted position of the part inside the message ("" for the root).
type DecodeError struct {
	Part string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("failed to decode message body: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode part %s: %v", e.Part, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AttachmentFunc receives an attachment's decoded content. r is only valid
// during the call.
type AttachmentFunc func(filename string, r io.Reader) error

// Walker decomposes a message body.
type Walker struct {
	// OnAttachment is called for every attachment in document order. When
	// nil, attachments are still recognized and kept out of the text
	// buffers, but their content is not read.
	OnAttachment AttachmentFunc
}

// Body is the accumulated text of a message. A buffer that received no
// content is reported as absent.
type Body struct {
	Text    string
	HasText bool
	HTML    string
	HasHTML bool
}

type accumulator struct {
	text strings.Builder
	html strings.Builder
}

// Walk parses a full RFC 5322 message from r and decomposes its body.
func (w *Walker) Walk(r io.Reader) (Body, error) {
	e, err := gomessage.Read(r)
	if e == nil || (err != nil && !isTolerable(err)) {
		return Body{}, &DecodeError{Err: err}
	}
	return w.WalkEntity(e)
}

// WalkEntity decomposes an already parsed entity.
func (w *Walker) WalkEntity(e *gomessage.Entity) (Body, error) {
	var acc accumulator
	if err := w.walk(e, "", &acc); err != nil {
		return Body{}, err
	}
	return Body{
		Text:    acc.text.String(),
		HasText: acc.text.Len() > 0,
		HTML:    acc.html.String(),
		HasHTML: acc.html.Len() > 0,
	}, nil
}

func (w *Walker) walk(e *gomessage.Entity, path string, acc *accumulator) error {
	kind, filename := Classify(e.Header)
	switch kind {
	case KindAttachment:
		return w.attachment(e, filename, path)
	case KindPlainText:
		return appendBody(&acc.text, e.Body, path)
	case KindHTML:
		return appendBody(&acc.html, e.Body, path)
	case KindMultipart:
		mr := e.MultipartReader()
		if mr == nil {
			return appendBody(&acc.text, e.Body, path)
		}
		for i := 1; ; i++ {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			child := childPath(path, i)
			if part == nil || (err != nil && !isTolerable(err)) {
				return &DecodeError{Part: child, Err: err}
			}
			if err := w.walk(part, child, acc); err != nil {
				return err
			}
		}
	case KindNested:
		inner, err := gomessage.Read(e.Body)
		if inner == nil || (err != nil && !isTolerable(err)) {
			return &DecodeError{Part: path, Err: err}
		}
		return w.walk(inner, path, acc)
	default:
		return appendBody(&acc.text, e.Body, path)
	}
}

func (w *Walker) attachment(e *gomessage.Entity, filename, path string) error {
	if w.OnAttachment == nil {
		return nil
	}
	r := &partReader{r: e.Body}
	err := w.OnAttachment(filename, r)
	if r.err != nil {
		return &DecodeError{Part: path, Err: r.err}
	}
	return err
}

func appendBody(b *strings.Builder, r io.Reader, path string) error {
	if _, err := io.Copy(b, r); err != nil {
		return &DecodeError{Part: path, Err: err}
	}
	return nil
}

func childPath(parent string, i int) string {
	if parent == "" {
		return strconv.Itoa(i)
	}
	return parent + "." + strconv.Itoa(i)
}

// isTolerable reports parse errors that still leave a usable entity: the
// body is then returned undecoded.
func isTolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// partReader records the first read error so that it can be reported as a
// DecodeError even when the callback swallows it.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) && p.err == nil {
		p.err = err
	}
	return n, err
}
