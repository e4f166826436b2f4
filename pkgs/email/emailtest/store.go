// Package emailtest provides an in-memory email.Session for tests.
//
// Store mimics the IMAP semantics the engines depend on: reading content
// from a read-write folder sets \Seen, EXAMINE-style read-only folders
// refuse flag changes, and Expunge renumbers the remaining messages.
package emailtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/emx-mail/mailrows/pkgs/email"
)

// Store is an in-memory mail store. The zero value is not usable; call
// NewStore.
type Store struct {
	mu      sync.Mutex
	folders map[string]*folder
	nextUID uint32
	move    bool
	calls   map[string]int

	// OpenErr, if set, is consulted before content is returned by Open.
	OpenErr func(msg *email.Message) error
}

type folder struct {
	msgs []*stored
}

type stored struct {
	uid   uint32
	raw   []byte
	flags email.MessageFlag
	date  time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMove makes opened folders implement email.Mover.
func WithMove() Option {
	return func(s *Store) { s.move = true }
}

// NewStore returns a store holding an empty INBOX.
func NewStore(opts ...Option) *Store {
	s := &Store{
		folders: map[string]*folder{"INBOX": {}},
		calls:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFolder adds an empty folder if it does not exist yet.
func (s *Store) CreateFolder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		s.folders[name] = &folder{}
	}
}

// Append adds raw to the folder and returns its UID.
func (s *Store) Append(name, raw string, date time.Time, flags ...email.Flag) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[name]
	if !ok {
		f = &folder{}
		s.folders[name] = f
	}
	s.nextUID++
	m := &stored{uid: s.nextUID, raw: []byte(raw), date: date}
	for _, fl := range flags {
		m.flags.Set(fl, true)
	}
	f.msgs = append(f.msgs, m)
	return m.uid
}

// AppendMbox appends every message of an mbox stream to the folder.
func (s *Store) AppendMbox(name string, r io.Reader) (int, error) {
	mr := mbox.NewReader(r)
	n := 0
	for {
		msg, err := mr.NextMessage()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to read mbox message %d: %w", n+1, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return n, fmt.Errorf("failed to read mbox message %d: %w", n+1, err)
		}
		s.Append(name, string(raw), time.Time{})
		n++
	}
}

// Flags returns the flags of the message with the given UID.
func (s *Store) Flags(name string, uid uint32) (email.MessageFlag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[name]
	if !ok {
		return email.MessageFlag{}, false
	}
	for _, m := range f.msgs {
		if m.uid == uid {
			return m.flags, true
		}
	}
	return email.MessageFlag{}, false
}

// Len returns the number of messages in the folder.
func (s *Store) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[name]; ok {
		return len(f.msgs)
	}
	return 0
}

// Subjects returns the subjects of the folder's messages in order.
func (s *Store) Subjects(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[name]
	if !ok {
		return nil
	}
	subjects := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		env, err := email.ParseEnvelope(m.raw)
		if err != nil {
			subjects = append(subjects, "")
			continue
		}
		subjects = append(subjects, env.Subject)
	}
	return subjects
}

// Calls returns how many times the named folder operation ran
// ("count", "search", "fetch", "open", "store", "copy", "move", "expunge").
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ListFolders implements email.Session.
func (s *Store) ListFolders(ctx context.Context) ([]email.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	folders := make([]email.Folder, 0, len(s.folders))
	for name := range s.folders {
		folders = append(folders, email.Folder{Name: name})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// LookupFolder implements email.Session.
func (s *Store) LookupFolder(ctx context.Context, name string) (email.Folder, bool, error) {
	if err := ctx.Err(); err != nil {
		return email.Folder{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		return email.Folder{}, false, nil
	}
	return email.Folder{Name: name}, true, nil
}

// OpenFolder implements email.Session.
func (s *Store) OpenFolder(ctx context.Context, name string, mode email.OpenMode) (email.FolderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.folders[name]
	s.mu.Unlock()
	if !ok {
		return nil, &email.FolderNotFoundError{Folder: name}
	}
	h := &handle{s: s, name: name, mode: mode}
	if s.move {
		return &moveHandle{h}, nil
	}
	return h, nil
}

// Close implements email.Session.
func (s *Store) Close() error { return nil }

type handle struct {
	s    *Store
	name string
	mode email.OpenMode
}

type moveHandle struct {
	*handle
}

var errReadOnly = errors.New("folder is read-only")

func (h *handle) Name() string         { return h.name }
func (h *handle) Mode() email.OpenMode { return h.mode }

func (h *handle) Count(ctx context.Context) (uint32, error) {
	var n uint32
	err := h.locked(ctx, "count", func(f *folder) error {
		n = uint32(len(f.msgs))
		return nil
	})
	return n, err
}

// locked runs fn with the store locked and the call counted.
func (h *handle) locked(ctx context.Context, op string, fn func(f *folder) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.calls[op]++
	f, ok := h.s.folders[h.name]
	if !ok {
		return &email.FolderNotFoundError{Folder: h.name}
	}
	return fn(f)
}

func (h *handle) Search(ctx context.Context, criteria email.SearchCriteria) ([]uint32, error) {
	var seqNums []uint32
	err := h.locked(ctx, "search", func(f *folder) error {
		for i, m := range f.msgs {
			ok, err := matches(m, criteria)
			if err != nil {
				return err
			}
			if ok {
				seqNums = append(seqNums, uint32(i+1))
			}
		}
		return nil
	})
	return seqNums, err
}

func matches(m *stored, c email.SearchCriteria) (bool, error) {
	for _, f := range c.Flag {
		if !m.flags.Has(f) {
			return false, nil
		}
	}
	for _, f := range c.NotFlag {
		if m.flags.Has(f) {
			return false, nil
		}
	}
	if len(c.Header) == 0 {
		return true, nil
	}
	headers, err := email.ReadHeader(bytes.NewReader(m.raw))
	if err != nil {
		return false, err
	}
	for _, term := range c.Header {
		found := false
		for _, hd := range headers {
			if strings.EqualFold(hd.Name, term.Name) &&
				strings.Contains(strings.ToLower(hd.Value), strings.ToLower(term.Value)) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func (h *handle) Fetch(ctx context.Context, seqNums []uint32) ([]*email.Message, error) {
	var msgs []*email.Message
	err := h.locked(ctx, "fetch", func(f *folder) error {
		sorted := append([]uint32(nil), seqNums...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, seq := range sorted {
			if seq == 0 || int(seq) > len(f.msgs) {
				continue
			}
			msg, err := toMessage(f.msgs[seq-1], seq)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

func (h *handle) Messages(ctx context.Context, start, end uint32) ([]*email.Message, error) {
	if start == 0 {
		start = 1
	}
	if end < start {
		return nil, nil
	}
	seqNums := make([]uint32, 0, end-start+1)
	for seq := start; seq <= end; seq++ {
		seqNums = append(seqNums, seq)
	}
	return h.Fetch(ctx, seqNums)
}

func toMessage(m *stored, seq uint32) (*email.Message, error) {
	msg, err := email.ParseEnvelope(m.raw)
	if err != nil {
		return nil, err
	}
	msg.SeqNum = seq
	msg.UID = m.uid
	msg.Date = m.date
	msg.Flags = m.flags
	msg.Flags.Keywords = append([]string(nil), m.flags.Keywords...)
	return msg, nil
}

func (h *handle) Open(ctx context.Context, msg *email.Message) (io.ReadCloser, error) {
	if h.s.OpenErr != nil {
		if err := h.s.OpenErr(msg); err != nil {
			return nil, err
		}
	}
	var raw []byte
	err := h.locked(ctx, "open", func(f *folder) error {
		for _, m := range f.msgs {
			if m.uid == msg.UID {
				if h.mode == email.ReadWrite {
					m.flags.Seen = true
				}
				raw = m.raw
				return nil
			}
		}
		return email.ErrExpunged
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (h *handle) SetFlags(ctx context.Context, msgs []*email.Message, flag email.Flag, value bool) error {
	if h.mode != email.ReadWrite {
		return &email.RemoteError{Op: "store", Folder: h.name, Err: errReadOnly}
	}
	uids := uidSet(msgs)
	return h.locked(ctx, "store", func(f *folder) error {
		for _, m := range f.msgs {
			if uids[m.uid] {
				m.flags.Set(flag, value)
			}
		}
		return nil
	})
}

func (h *handle) Copy(ctx context.Context, msgs []*email.Message, target string) error {
	uids := uidSet(msgs)
	return h.locked(ctx, "copy", func(f *folder) error {
		dst, ok := h.s.folders[target]
		if !ok {
			return &email.FolderNotFoundError{Folder: target}
		}
		for _, m := range f.msgs {
			if uids[m.uid] {
				h.s.nextUID++
				cp := *m
				cp.uid = h.s.nextUID
				cp.flags.Keywords = append([]string(nil), m.flags.Keywords...)
				dst.msgs = append(dst.msgs, &cp)
			}
		}
		return nil
	})
}

func (h *handle) Expunge(ctx context.Context) error {
	if h.mode != email.ReadWrite {
		return &email.RemoteError{Op: "expunge", Folder: h.name, Err: errReadOnly}
	}
	return h.locked(ctx, "expunge", func(f *folder) error {
		kept := f.msgs[:0]
		for _, m := range f.msgs {
			if !m.flags.Deleted {
				kept = append(kept, m)
			}
		}
		f.msgs = kept
		return nil
	})
}

func (h *handle) Close() error { return nil }

func (h *moveHandle) Move(ctx context.Context, msgs []*email.Message, target string) error {
	if h.mode != email.ReadWrite {
		return &email.RemoteError{Op: "move", Folder: h.name, Err: errReadOnly}
	}
	uids := uidSet(msgs)
	return h.locked(ctx, "move", func(f *folder) error {
		dst, ok := h.s.folders[target]
		if !ok {
			return &email.FolderNotFoundError{Folder: target}
		}
		kept := f.msgs[:0]
		for _, m := range f.msgs {
			if !uids[m.uid] {
				kept = append(kept, m)
				continue
			}
			h.s.nextUID++
			m.uid = h.s.nextUID
			dst.msgs = append(dst.msgs, m)
		}
		f.msgs = kept
		return nil
	})
}

func uidSet(msgs []*email.Message) map[uint32]bool {
	set := make(map[uint32]bool, len(msgs))
	for _, m := range msgs {
		set[m.UID] = true
	}
	return set
}
