package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/retrieval"
	"github.com/emx-mail/mailrows/pkgs/store"
)

type retrieveFlags struct {
	folder          string
	seen            string
	answered        string
	selection       string
	limit           int
	markAsRead      bool
	attachments     bool
	headers         bool
	db              string
	saveAttachments string
}

func (a *app) parseRetrieveFlags(args []string) retrieveFlags {
	def := a.cfg.Retrieve
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	var f retrieveFlags
	fs.StringVar(&f.folder, "folder", def.Folder, "Folder to read")
	fs.StringVar(&f.seen, "seen", def.Seen, "Seen filter: all, seen or unseen")
	fs.StringVar(&f.answered, "answered", def.Answered, "Answered filter: all, answered or unanswered")
	fs.StringVar(&f.selection, "select", def.Selection, "Selection: all, oldest or newest")
	fs.IntVar(&f.limit, "limit", def.Limit, "Cap for oldest/newest selections (0: no cap)")
	fs.BoolVar(&f.markAsRead, "mark-as-read", def.MarkAsRead, "Leave retrieved messages marked as read")
	fs.BoolVar(&f.attachments, "attachments", def.Attachments, "Produce attachment rows")
	fs.BoolVar(&f.headers, "headers", def.Headers, "Produce header rows")
	fs.StringVar(&f.db, "db", "", "Row store path")
	fs.StringVar(&f.saveAttachments, "save-attachments", "", "Also write attachments to directory")
	if err := fs.Parse(args); err != nil {
		fatal("retrieve: %v", err)
	}
	return f
}

// request converts the flags into a retrieval request.
func (f retrieveFlags) request() (retrieval.Request, error) {
	req := retrieval.Request{
		Folder:      f.folder,
		Limit:       f.limit,
		MarkAsRead:  f.markAsRead,
		Attachments: f.attachments || f.saveAttachments != "",
		Headers:     f.headers,
	}
	var err error
	if req.Seen, err = retrieval.ParseSeenFilter(f.seen); err != nil {
		return req, err
	}
	if req.Answered, err = retrieval.ParseAnsweredFilter(f.answered); err != nil {
		return req, err
	}
	if req.Selection, err = retrieval.ParseSelection(f.selection); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func (a *app) handleRetrieve(ctx context.Context, acc *config.AccountConfig, f retrieveFlags) error {
	req, err := f.request()
	if err != nil {
		return err
	}

	st, err := a.openStore(f.db)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := a.connect(acc)
	if err != nil {
		return err
	}

	engine := &retrieval.Engine{
		Session: client,
		Log:     a.log,
		Metrics: a.metrics,
	}
	if a.verbose {
		engine.Progress = func(fraction float64, status string) {
			fmt.Fprintf(os.Stderr, "\r[%3.0f%%] %s", fraction*100, truncate(status, 60))
		}
	}

	runID, sum, err := retrieveInto(ctx, engine, st, req, false)
	if a.verbose {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", runID)
	fmt.Printf("Matched: %d, Messages: %d, Attachments: %d, Headers: %d\n",
		sum.Matched, sum.Messages, sum.Attachments, sum.Headers)
	if sum.Restored > 0 {
		fmt.Printf("Restored unread: %d\n", sum.Restored)
	}

	if a.verbose {
		rows, err := st.Messages(ctx, runID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("  %s  %s  %s\n", row.Key, row.ID, truncate(row.Subject, 60))
		}
	}

	if f.saveAttachments != "" {
		return saveAttachments(ctx, st, runID, f.saveAttachments)
	}
	return nil
}

// retrieveInto runs req into a new store batch. The batch is committed only
// when the whole retrieval succeeded. With skipEmpty, a run that produced no
// messages is discarded and the returned run id is empty.
func retrieveInto(ctx context.Context, engine *retrieval.Engine, st *store.SQLiteStore, req retrieval.Request, skipEmpty bool) (string, retrieval.Summary, error) {
	batch, err := st.Begin(ctx, req.Folder)
	if err != nil {
		return "", retrieval.Summary{}, err
	}
	sum, err := engine.RetrieveTo(ctx, req, batch)
	if err != nil {
		batch.Rollback()
		return "", sum, err
	}
	if skipEmpty && sum.Messages == 0 {
		return "", sum, batch.Rollback()
	}
	// Flags are already final; the rows must land even if ctx just ended.
	if err := batch.Commit(context.WithoutCancel(ctx)); err != nil {
		return "", sum, err
	}
	return batch.RunID(), sum, nil
}

func saveAttachments(ctx context.Context, st *store.SQLiteStore, runID, dir string) error {
	rows, err := st.Attachments(ctx, runID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stderr, "\nSaving attachments to: %s\n", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	for i, att := range rows {
		// Validate path to prevent traversal
		filePath, err := validateAttachmentPath(dir, att.Filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [%d] Skipping %s: %v\n", i+1, att.Filename, err)
			continue
		}
		filePath = uniquePath(filePath)
		if err := os.WriteFile(filePath, att.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", att.Filename, err)
		}
		fmt.Fprintf(os.Stderr, "  [%d] Saved: %s\n", i+1, filePath)
	}
	return nil
}
