package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/identity"
	"github.com/emx-mail/mailrows/pkgs/metrics"
	"github.com/emx-mail/mailrows/pkgs/mime"
)

// ErrCanceled is returned (wrapping the context error) when a retrieval is
// stopped before all selected messages were processed.
var ErrCanceled = errors.New("retrieval canceled")

// ProgressFunc receives the fraction of work done and a status line. It is
// advisory only.
type ProgressFunc func(fraction float64, status string)

// Engine retrieves messages from a Session. An Engine may be reused, but a
// single call must not run concurrently with another call on the same
// session.
type Engine struct {
	Session  email.Session
	Log      *slog.Logger
	Progress ProgressFunc
	Metrics  *metrics.Metrics
}

// Summary counts the rows produced by one call.
type Summary struct {
	Matched     int
	Messages    int
	Attachments int
	Headers     int
	Restored    int
}

// Retrieve runs req and returns all rows in memory. No rows are returned
// when the call fails.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	res := newResult()
	if _, err := e.RetrieveTo(ctx, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RetrieveTo runs req and streams rows into sink. Rows are emitted in
// ascending folder order. On failure the sink may hold rows of the messages
// processed so far; transactional sinks are expected to discard them.
func (e *Engine) RetrieveTo(ctx context.Context, req Request, sink Sink) (sum Summary, err error) {
	if err := req.Validate(); err != nil {
		return sum, err
	}
	start := time.Now()
	log := e.logger().With("folder", req.Folder)
	defer func() {
		e.Metrics.Retrieval(sum.Messages, sum.Attachments, sum.Headers, sum.Restored, time.Since(start), err)
	}()

	// Read-write in both modes: the implicit \Seen of a download is
	// suppressed on read-only (EXAMINE) folders.
	f, err := e.Session.OpenFolder(ctx, req.Folder, email.ReadWrite)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	seqNums, err := f.Search(ctx, req.Criteria())
	if err != nil {
		return sum, err
	}
	sum.Matched = len(seqNums)

	w := WindowFor(req.Selection, req.Limit, len(seqNums))
	log.Debug("search complete", "matched", len(seqNums), "start", w.Start, "end", w.End)
	if w.Len() == 0 {
		e.progress(1, "no matching messages")
		return sum, nil
	}

	msgs, err := f.Fetch(ctx, seqNums[w.Start-1:w.End])
	if err != nil {
		return sum, err
	}

	rec := NewFlagReconciler(req.MarkAsRead)
	defer func() {
		restored, rerr := rec.Restore(context.WithoutCancel(ctx), f)
		sum.Restored = restored
		if rerr != nil {
			log.Error("failed to restore unseen flags", "error", rerr)
			err = errors.Join(err, fmt.Errorf("failed to restore unseen flags: %w", rerr))
		} else if restored > 0 {
			log.Debug("restored unseen flags", "count", restored)
		}
	}()

	var keys rowKeys
	for i, msg := range msgs {
		if cerr := ctx.Err(); cerr != nil {
			log.Info("retrieval canceled", "processed", i, "selected", len(msgs))
			return sum, fmt.Errorf("%w after %d of %d messages: %w", ErrCanceled, i, len(msgs), cerr)
		}
		if err := e.materialize(ctx, log, f, msg, req, sink, rec, &keys, &sum); err != nil {
			return sum, err
		}
		e.progress(float64(i+1)/float64(len(msgs)),
			fmt.Sprintf("retrieved %d of %d messages", i+1, len(msgs)))
	}

	log.Info("retrieval complete",
		"messages", sum.Messages, "attachments", sum.Attachments, "headers", sum.Headers)
	return sum, nil
}

func (e *Engine) materialize(
	ctx context.Context,
	log *slog.Logger,
	f email.FolderHandle,
	msg *email.Message,
	req Request,
	sink Sink,
	rec *FlagReconciler,
	keys *rowKeys,
	sum *Summary,
) error {
	id := identity.Of(log, msg.Headers)

	rc, err := f.Open(ctx, msg)
	if errors.Is(err, email.ErrExpunged) {
		log.Debug("skipping expunged message", "seq", msg.SeqNum, "uid", msg.UID)
		return nil
	}
	if err != nil {
		return err
	}
	rec.Observe(msg)

	walker := &mime.Walker{}
	if req.Attachments {
		walker.OnAttachment = func(filename string, r io.Reader) error {
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			row := AttachmentRow{Key: rowKey(&keys.attachments), ID: id, Filename: filename, Data: data}
			if err := sink.AddAttachment(ctx, row); err != nil {
				return err
			}
			sum.Attachments++
			return nil
		}
	}

	body, err := walker.Walk(rc)
	closeErr := rc.Close()
	if err != nil {
		return fmt.Errorf("message %d (%s): %w", msg.SeqNum, id, err)
	}
	if closeErr != nil {
		return closeErr
	}

	if req.Headers {
		for _, h := range msg.Headers {
			row := HeaderRow{Key: rowKey(&keys.headers), ID: id, Name: h.Name, Value: h.Value}
			if err := sink.AddHeader(ctx, row); err != nil {
				return err
			}
			sum.Headers++
		}
	}

	row := MessageRow{
		Key:      rowKey(&keys.messages),
		ID:       id,
		Received: sql.NullTime{Time: msg.Date, Valid: !msg.Date.IsZero()},
		Subject:  msg.Subject,
		Text:     nullString(body.Text, body.HasText),
		HTML:     nullString(body.HTML, body.HasHTML),
		From:     email.FormatAddressList(msg.From),
		To:       nullString(email.FormatAddressList(msg.To), true),
		Cc:       nullString(email.FormatAddressList(msg.Cc), true),
	}
	if err := sink.AddMessage(ctx, row); err != nil {
		return err
	}
	sum.Messages++
	return nil
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
