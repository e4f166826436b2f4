package email

import (
	"context"
	"io"
)

// OpenMode selects how a folder is opened.
type OpenMode int

const (
	// ReadOnly opens the folder without write access (IMAP EXAMINE).
	ReadOnly OpenMode = iota
	// ReadWrite opens the folder for flag changes, copies and expunges (IMAP SELECT).
	ReadWrite
)

func (m OpenMode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// HeaderTerm matches messages whose named header contains Value.
type HeaderTerm struct {
	Name  string
	Value string
}

// SearchCriteria is a conjunction of search terms. The zero value matches
// every message in the folder.
type SearchCriteria struct {
	Flag    []Flag
	NotFlag []Flag
	Header  []HeaderTerm
}

// Session is a connected, authenticated mail store.
//
// Folder handles returned by a session are not safe for concurrent use;
// callers serialize access to a single handle.
type Session interface {
	// ListFolders lists all folders/mailboxes.
	ListFolders(ctx context.Context) ([]Folder, error)

	// LookupFolder reports whether a folder exists. A missing folder is not
	// an error.
	LookupFolder(ctx context.Context, name string) (Folder, bool, error)

	// OpenFolder opens a folder. It fails with *FolderNotFoundError if the
	// folder does not exist.
	OpenFolder(ctx context.Context, name string, mode OpenMode) (FolderHandle, error)

	// Close releases the underlying connection, if any.
	Close() error
}

// FolderHandle is an open folder. Sequence numbers are 1-based positions
// and stay valid until the next Expunge.
type FolderHandle interface {
	Name() string
	Mode() OpenMode

	// Count returns the number of messages in the folder.
	Count(ctx context.Context) (uint32, error)

	// Search returns the sequence numbers of matching messages in
	// ascending order.
	Search(ctx context.Context, criteria SearchCriteria) ([]uint32, error)

	// Fetch returns message metadata and raw headers for the given
	// sequence numbers, in ascending order. Messages that no longer exist
	// are omitted. Fetch never changes flags.
	Fetch(ctx context.Context, seqNums []uint32) ([]*Message, error)

	// Messages returns the messages in the inclusive range [start, end].
	Messages(ctx context.Context, start, end uint32) ([]*Message, error)

	// Open returns the full RFC 5322 content of msg. On a read-write folder,
	// reading content sets \Seen on the message as a side effect. It returns
	// ErrExpunged if the message is gone.
	Open(ctx context.Context, msg *Message) (io.ReadCloser, error)

	// SetFlags sets or clears flag on all msgs in a single call.
	SetFlags(ctx context.Context, msgs []*Message, flag Flag, value bool) error

	// Copy copies msgs to the target folder.
	Copy(ctx context.Context, msgs []*Message, target string) error

	// Expunge permanently removes messages flagged \Deleted.
	Expunge(ctx context.Context) error

	Close() error
}

// Mover is implemented by folder handles whose store supports an atomic
// move. Handles that do not implement it must be relocated with
// Copy, SetFlags(FlagDeleted) and Expunge.
type Mover interface {
	Move(ctx context.Context, msgs []*Message, target string) error
}
