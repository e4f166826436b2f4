package main

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/retrieval"
)

type watchFlags struct {
	folder      string
	pollOnly    bool
	once        bool
	attachments bool
	headers     bool
	db          string
}

func (a *app) parseWatchFlags(args []string) watchFlags {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var f watchFlags
	fs.StringVar(&f.folder, "folder", "", "Folder to watch (default: INBOX)")
	fs.BoolVar(&f.pollOnly, "poll-only", false, "Force polling mode (disable IDLE)")
	fs.BoolVar(&f.once, "once", false, "Process existing messages then exit")
	fs.BoolVar(&f.attachments, "attachments", a.cfg.Retrieve.Attachments, "Produce attachment rows")
	fs.BoolVar(&f.headers, "headers", a.cfg.Retrieve.Headers, "Produce header rows")
	fs.StringVar(&f.db, "db", "", "Row store path")
	if err := fs.Parse(args); err != nil {
		fatal("watch: %v", err)
	}
	return f
}

// handleWatch retrieves every unseen message into the row store whenever
// the folder changes. Retrieved messages are left marked as read, so each
// one is stored once.
func (a *app) handleWatch(ctx context.Context, acc *config.AccountConfig, f watchFlags) error {
	watchOpts := email.WatchOptions{
		Folder:   f.folder,
		PollOnly: f.pollOnly,
		Once:     f.once,
		Log:      a.log,
	}

	// Apply config defaults if specified
	if acc.Watch != nil {
		if watchOpts.Folder == "" && acc.Watch.Folder != "" {
			watchOpts.Folder = acc.Watch.Folder
		}
		if acc.Watch.KeepAlive > 0 {
			watchOpts.IdleKeepAlive = acc.Watch.KeepAlive
		}
		if acc.Watch.PollInterval > 0 {
			watchOpts.PollInterval = acc.Watch.PollInterval
		}
		if acc.Watch.MaxRetries > 0 {
			watchOpts.MaxRetries = acc.Watch.MaxRetries
		}
	}
	if watchOpts.Folder == "" {
		watchOpts.Folder = "INBOX"
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
	req := retrieval.Request{
		Folder:      watchOpts.Folder,
		Seen:        retrieval.UnseenOnly,
		MarkAsRead:  true,
		Attachments: f.attachments,
		Headers:     f.headers,
	}
	log := a.log.With("folder", req.Folder)

	return client.Watch(ctx, watchOpts, func(ctx context.Context) error {
		runID, sum, err := retrieveInto(ctx, engine, st, req, true)
		if err != nil {
			return err
		}
		if runID == "" {
			log.Debug("no new messages")
			return nil
		}
		log.Info("stored new messages", "run", runID, "messages", sum.Messages,
			"attachments", sum.Attachments, "headers", sum.Headers)
		return nil
	})
}
