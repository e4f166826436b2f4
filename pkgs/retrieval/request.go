// Package retrieval materializes mailbox messages into correlated rows.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/emx-mail/mailrows/pkgs/email"
)

// SeenFilter selects messages by their \Seen flag.
type SeenFilter int

const (
	SeenAll SeenFilter = iota
	SeenOnly
	UnseenOnly
)

// AnsweredFilter selects messages by their \Answered flag.
type AnsweredFilter int

const (
	AnsweredAll AnsweredFilter = iota
	AnsweredOnly
	UnansweredOnly
)

// Selection picks which part of the matching messages is materialized.
type Selection int

const (
	SelectAll Selection = iota
	SelectOldest
	SelectNewest
)

func (f SeenFilter) String() string {
	switch f {
	case SeenOnly:
		return "seen"
	case UnseenOnly:
		return "unseen"
	}
	return "all"
}

func (f AnsweredFilter) String() string {
	switch f {
	case AnsweredOnly:
		return "answered"
	case UnansweredOnly:
		return "unanswered"
	}
	return "all"
}

func (s Selection) String() string {
	switch s {
	case SelectOldest:
		return "oldest"
	case SelectNewest:
		return "newest"
	}
	return "all"
}

// ParseSeenFilter parses "all", "seen" or "unseen".
func ParseSeenFilter(s string) (SeenFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return SeenAll, nil
	case "seen", "read":
		return SeenOnly, nil
	case "unseen", "unread":
		return UnseenOnly, nil
	}
	return SeenAll, fmt.Errorf("invalid seen filter: %q", s)
}

// ParseAnsweredFilter parses "all", "answered" or "unanswered".
func ParseAnsweredFilter(s string) (AnsweredFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return AnsweredAll, nil
	case "answered":
		return AnsweredOnly, nil
	case "unanswered":
		return UnansweredOnly, nil
	}
	return AnsweredAll, fmt.Errorf("invalid answered filter: %q", s)
}

// ParseSelection parses "all", "oldest" or "newest".
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return SelectAll, nil
	case "oldest":
		return SelectOldest, nil
	case "newest":
		return SelectNewest, nil
	}
	return SelectAll, fmt.Errorf("invalid selection: %q", s)
}

// Request describes one retrieval call.
type Request struct {
	Folder    string
	Seen      SeenFilter
	Answered  AnsweredFilter
	Selection Selection
	// Limit caps Oldest and Newest selections. Zero means no cap.
	Limit int

	// MarkAsRead leaves downloaded messages \Seen. When false, messages
	// that were unseen before the call are reset afterwards.
	MarkAsRead bool

	Attachments bool
	Headers     bool
}

// Validate rejects requests that cannot be executed.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Folder) == "" {
		return fmt.Errorf("folder is required")
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", r.Limit)
	}
	return nil
}

// Criteria returns the search predicate: the seen term AND the answered term.
func (r Request) Criteria() email.SearchCriteria {
	var c email.SearchCriteria
	switch r.Seen {
	case SeenOnly:
		c.Flag = append(c.Flag, email.FlagSeen)
	case UnseenOnly:
		c.NotFlag = append(c.NotFlag, email.FlagSeen)
	}
	switch r.Answered {
	case AnsweredOnly:
		c.Flag = append(c.Flag, email.FlagAnswered)
	case UnansweredOnly:
		c.NotFlag = append(c.NotFlag, email.FlagAnswered)
	}
	return c
}

// Window is a 1-based inclusive range of matched messages. It is empty
// when End < Start.
type Window struct {
	Start int
	End   int
}

// Len returns the number of positions in the window.
func (w Window) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}

// WindowFor returns the range to materialize out of total matches.
func WindowFor(sel Selection, limit, total int) Window {
	if total <= 0 {
		return Window{Start: 1, End: 0}
	}
	if limit <= 0 || sel == SelectAll {
		return Window{Start: 1, End: total}
	}
	switch sel {
	case SelectOldest:
		return Window{Start: 1, End: min(total, limit)}
	case SelectNewest:
		return Window{Start: 1 + max(0, total-limit), End: total}
	}
	return Window{Start: 1, End: total}
}
