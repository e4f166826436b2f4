// Package relocation moves previously retrieved messages between folders.
package relocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/identity"
	"github.com/emx-mail/mailrows/pkgs/metrics"
)

// DefaultBatchSize is the number of messages fetched per scan window.
const DefaultBatchSize = 10

// ErrCanceled is returned (wrapping the context error) when resolution is
// interrupted. Nothing has been moved at that point.
var ErrCanceled = errors.New("relocation canceled")

// Strategy names how the resolved messages were relocated.
type Strategy string

const (
	StrategyNone Strategy = ""
	StrategyMove Strategy = "move"
	StrategyCopy Strategy = "copy"
)

// ProgressFunc receives the fraction of work done and a status line.
type ProgressFunc func(fraction float64, status string)

// Engine relocates messages identified by their identity.
//
// Without a native move the sequence is copy, flag \Deleted, expunge. A
// failure after the copy leaves the messages in both folders; it is
// reported, not compensated.
type Engine struct {
	Session   email.Session
	Log       *slog.Logger
	Progress  ProgressFunc
	Metrics   *metrics.Metrics
	BatchSize int
}

// Result describes a completed relocation.
type Result struct {
	Moved    int
	Strategy Strategy
}

// Relocate moves the messages with the given identities from source to
// target and returns how many were moved. Identities that match no live
// message are skipped silently.
func (e *Engine) Relocate(ctx context.Context, ids []string, source, target string) (res Result, err error) {
	log := e.logger().With("source", source, "target", target)
	defer func() {
		e.Metrics.Relocation(string(res.Strategy), res.Moved, err)
	}()

	if _, ok, err := e.Session.LookupFolder(ctx, target); err != nil {
		return res, err
	} else if !ok {
		return res, &email.FolderNotFoundError{Folder: target}
	}

	f, err := e.Session.OpenFolder(ctx, source, email.ReadWrite)
	if err != nil {
		return res, err
	}
	defer f.Close()

	msgs, err := e.resolve(ctx, log, f, ids)
	if err != nil {
		return res, err
	}
	if len(msgs) == 0 {
		log.Info("no messages to relocate", "identities", len(ids))
		e.progress(1, "no matching messages")
		return res, nil
	}

	if mover, ok := f.(email.Mover); ok {
		res.Strategy = StrategyMove
		if err := mover.Move(ctx, msgs, target); err != nil {
			return res, err
		}
	} else {
		res.Strategy = StrategyCopy
		if err := copyThenDelete(ctx, f, msgs, target); err != nil {
			return res, err
		}
	}
	res.Moved = len(msgs)

	e.progress(1, fmt.Sprintf("relocated %d messages", res.Moved))
	log.Info("relocation complete", "moved", res.Moved, "strategy", string(res.Strategy))
	return res, nil
}

func copyThenDelete(ctx context.Context, f email.FolderHandle, msgs []*email.Message, target string) error {
	if err := f.Copy(ctx, msgs, target); err != nil {
		return err
	}
	if err := f.SetFlags(ctx, msgs, email.FlagDeleted, true); err != nil {
		return fmt.Errorf("messages copied to %s but not deleted: %w", target, err)
	}
	if err := f.Expunge(ctx); err != nil {
		return fmt.Errorf("messages copied to %s but not expunged: %w", target, err)
	}
	return nil
}

// resolve maps identities to live messages. Message-ID identities are found
// with a header search; synthesized ones by scanning the folder in batches
// and recomputing each candidate's identity. Matches are deduplicated and
// returned in folder order.
func (e *Engine) resolve(ctx context.Context, log *slog.Logger, f email.FolderHandle, ids []string) ([]*email.Message, error) {
	var native []string
	synthetic := make(map[string]bool)
	for _, id := range ids {
		if identity.IsSynthetic(id) {
			synthetic[id] = true
		} else if id != "" {
			native = append(native, id)
		}
	}

	found := make(map[uint32]*email.Message)
	steps := float64(len(native) + 1)

	for i, id := range native {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, cerr)
		}
		seqNums, err := f.Search(ctx, email.SearchCriteria{
			Header: []email.HeaderTerm{{Name: identity.HeaderName, Value: id}},
		})
		if err != nil {
			return nil, err
		}
		// SEARCH HEADER is a substring match; confirm the exact identity.
		for start := 0; start < len(seqNums); start += e.batchSize() {
			batch := seqNums[start:min(start+e.batchSize(), len(seqNums))]
			msgs, err := f.Fetch(ctx, batch)
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				if identity.Of(log, m.Headers) == id {
					found[m.UID] = m
				}
			}
		}
		e.progress(float64(i+1)/steps, fmt.Sprintf("resolved %d of %d identities", i+1, len(native)))
	}

	if len(synthetic) > 0 {
		total, err := f.Count(ctx)
		if err != nil {
			return nil, err
		}
		for start := uint32(1); start <= total; start += uint32(e.batchSize()) {
			if cerr := ctx.Err(); cerr != nil {
				return nil, fmt.Errorf("%w: %w", ErrCanceled, cerr)
			}
			end := min(start+uint32(e.batchSize())-1, total)
			msgs, err := f.Messages(ctx, start, end)
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				if synthetic[identity.Of(log, m.Headers)] {
					found[m.UID] = m
				}
			}
		}
	}

	out := make([]*email.Message, 0, len(found))
	for _, m := range found {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	log.Debug("identities resolved", "identities", len(ids), "messages", len(out))
	return out, nil
}

func (e *Engine) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return DefaultBatchSize
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Engine) progress(fraction float64, status string) {
	if e.Progress != nil {
		e.Progress(fraction, status)
	}
}
