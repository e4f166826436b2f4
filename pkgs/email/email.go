package email

import (
	"strings"
	"time"
)

// Message is the read-only view of one message in an open folder.
// It never carries body content; use Folder.Open for that.
type Message struct {
	// Server-specific
	SeqNum uint32
	UID    uint32

	Flags MessageFlag

	// Date is the receipt (internal) date. Zero when the store has none.
	Date time.Time

	// Envelope
	Subject string
	From    []Address
	To      []Address
	Cc      []Address

	// Headers holds every raw header field in message order.
	// Names may repeat.
	Headers []Header
}

// HeaderValues returns all values for the named header, case-insensitively.
func (m *Message) HeaderValues(name string) []string {
	var values []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Header is a single header field.
type Header struct {
	Name  string
	Value string
}

// Address represents an email address
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String formats the address as "Name <email>" or just the email.
func (a Address) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Email + ">"
	}
	return a.Email
}

// FormatAddressList joins addresses with ", ".
func FormatAddressList(addrs []Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Flag is a message flag as named by IMAP (system flags carry a backslash).
type Flag string

const (
	FlagSeen     Flag = `\Seen`
	FlagAnswered Flag = `\Answered`
	FlagFlagged  Flag = `\Flagged`
	FlagDeleted  Flag = `\Deleted`
	FlagDraft    Flag = `\Draft`
	FlagRecent   Flag = `\Recent`
)

// MessageFlag represents message flags
type MessageFlag struct {
	Seen     bool
	Flagged  bool
	Answered bool
	Draft    bool
	Deleted  bool
	Recent   bool
	// Keywords are user-defined flags.
	Keywords []string
}

// Has reports whether f is set.
func (mf MessageFlag) Has(f Flag) bool {
	switch f {
	case FlagSeen:
		return mf.Seen
	case FlagAnswered:
		return mf.Answered
	case FlagFlagged:
		return mf.Flagged
	case FlagDeleted:
		return mf.Deleted
	case FlagDraft:
		return mf.Draft
	case FlagRecent:
		return mf.Recent
	}
	for _, k := range mf.Keywords {
		if strings.EqualFold(k, string(f)) {
			return true
		}
	}
	return false
}

// Set sets or clears f.
func (mf *MessageFlag) Set(f Flag, value bool) {
	switch f {
	case FlagSeen:
		mf.Seen = value
	case FlagAnswered:
		mf.Answered = value
	case FlagFlagged:
		mf.Flagged = value
	case FlagDeleted:
		mf.Deleted = value
	case FlagDraft:
		mf.Draft = value
	case FlagRecent:
		mf.Recent = value
	default:
		kept := mf.Keywords[:0]
		for _, k := range mf.Keywords {
			if !strings.EqualFold(k, string(f)) {
				kept = append(kept, k)
			}
		}
		mf.Keywords = kept
		if value {
			mf.Keywords = append(mf.Keywords, string(f))
		}
	}
}

// Folder represents an email folder
type Folder struct {
	Name     string
	ReadOnly bool
	Flags    []string
}

// ListResult represents the result of listing emails
type ListResult struct {
	Messages []*Message
	Total    int
	Unread   int
	Folder   string
}
