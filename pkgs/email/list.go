package email

import (
	"context"
)

// DefaultListLimit is the number of messages ListMessages returns when no
// limit is given.
const DefaultListLimit = 20

// ListMessages returns the newest messages of a folder, newest first. The
// folder is opened read-only, so no flag changes.
func ListMessages(ctx context.Context, s Session, folder string, limit int) (*ListResult, error) {
	if folder == "" {
		folder = "INBOX"
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	f, err := s.OpenFolder(ctx, folder, ReadOnly)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	count, err := f.Count(ctx)
	if err != nil {
		return nil, err
	}
	result := &ListResult{Folder: folder, Total: int(count)}
	if result.Total == 0 {
		return result, nil
	}

	unseen, err := f.Search(ctx, SearchCriteria{NotFlag: []Flag{FlagSeen}})
	if err != nil {
		return nil, err
	}
	result.Unread = len(unseen)

	end := uint32(result.Total)
	start := uint32(1)
	if result.Total > limit {
		start = end - uint32(limit) + 1
	}
	msgs, err := f.Messages(ctx, start, end)
	if err != nil {
		return nil, err
	}

	// Reverse to get newest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	result.Messages = msgs
	return result, nil
}
