package retrieval

import (
	"context"
	"database/sql"
	"strconv"
)

// MessageRow is one materialized message. Text and HTML are null when the
// message had no content of that kind; To and Cc are null when empty.
type MessageRow struct {
	Key      string
	ID       string
	Received sql.NullTime
	Subject  string
	Text     sql.NullString
	HTML     sql.NullString
	From     string
	To       sql.NullString
	Cc       sql.NullString
}

// AttachmentRow is one attachment of the message with the same ID.
type AttachmentRow struct {
	Key      string
	ID       string
	Filename string
	Data     []byte
}

// HeaderRow is one header field of the message with the same ID.
type HeaderRow struct {
	Key   string
	ID    string
	Name  string
	Value string
}

// Sink receives rows as they are produced. Attachment and header rows of a
// message may arrive before its MessageRow.
type Sink interface {
	AddMessage(ctx context.Context, row MessageRow) error
	AddAttachment(ctx context.Context, row AttachmentRow) error
	AddHeader(ctx context.Context, row HeaderRow) error
}

// Result holds the rows of one call in memory. It implements Sink.
type Result struct {
	Messages    []MessageRow
	Attachments []AttachmentRow
	Headers     []HeaderRow
}

func newResult() *Result {
	return &Result{
		Messages:    []MessageRow{},
		Attachments: []AttachmentRow{},
		Headers:     []HeaderRow{},
	}
}

func (r *Result) AddMessage(_ context.Context, row MessageRow) error {
	r.Messages = append(r.Messages, row)
	return nil
}

func (r *Result) AddAttachment(_ context.Context, row AttachmentRow) error {
	r.Attachments = append(r.Attachments, row)
	return nil
}

func (r *Result) AddHeader(_ context.Context, row HeaderRow) error {
	r.Headers = append(r.Headers, row)
	return nil
}

// rowKeys numbers rows per table.
type rowKeys struct {
	messages, attachments, headers int
}

func rowKey(n *int) string {
	k := "Row" + strconv.Itoa(*n)
	*n++
	return k
}

func nullString(s string, valid bool) sql.NullString {
	return sql.NullString{String: s, Valid: valid && s != ""}
}
