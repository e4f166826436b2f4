package retrieval

import (
	"context"

	"github.com/emx-mail/mailrows/pkgs/email"
)

// FlagReconciler undoes the implicit \Seen of content downloads.
//
// Observe is called with the metadata fetched before any content access.
// Restore then clears \Seen on exactly the observed messages that were
// unseen, in one bulk call. With markAsRead set it never records anything.
type FlagReconciler struct {
	markAsRead bool
	unseen     []*email.Message
	recorded   map[uint32]bool
}

// NewFlagReconciler returns a reconciler for one retrieval call.
func NewFlagReconciler(markAsRead bool) *FlagReconciler {
	return &FlagReconciler{
		markAsRead: markAsRead,
		recorded:   make(map[uint32]bool),
	}
}

// Observe records msg if it was unseen and should be reset.
func (r *FlagReconciler) Observe(msg *email.Message) {
	if r.markAsRead || msg.Flags.Seen || r.recorded[msg.UID] {
		return
	}
	r.recorded[msg.UID] = true
	r.unseen = append(r.unseen, msg)
}

// Pending returns the number of messages awaiting reset.
func (r *FlagReconciler) Pending() int {
	return len(r.unseen)
}

// Restore clears \Seen on all recorded messages and empties the set. It
// returns the number of messages reset.
func (r *FlagReconciler) Restore(ctx context.Context, f email.FolderHandle) (int, error) {
	if len(r.unseen) == 0 {
		return 0, nil
	}
	msgs := r.unseen
	r.unseen = nil
	r.recorded = make(map[uint32]bool)
	if err := f.SetFlags(ctx, msgs, email.FlagSeen, false); err != nil {
		return 0, err
	}
	return len(msgs), nil
}
