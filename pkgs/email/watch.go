package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
)

// WatchOptions holds options for watch mode
type WatchOptions struct {
	Folder        string
	PollInterval  int // seconds
	MaxRetries    int
	PollOnly      bool
	Once          bool
	IdleKeepAlive int // seconds, IDLE is restarted after this long
	Log           *slog.Logger
}

// ChangeFunc is called once at startup and after every change
// notification. The IDLE command is not running while it executes, so it
// may use the client as a Session.
type ChangeFunc func(ctx context.Context) error

func (o *WatchOptions) setDefaults() {
	if o.Folder == "" {
		o.Folder = "INBOX"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.IdleKeepAlive <= 0 {
		o.IdleKeepAlive = 300 // 5 minutes default
	}
	// RFC 2177: clients should re-issue IDLE at least every 29 minutes.
	if o.IdleKeepAlive < 60 {
		o.IdleKeepAlive = 60
	}
	if o.IdleKeepAlive > 1740 {
		o.IdleKeepAlive = 1740
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

// Watch waits for changes in a folder and calls onChange for each one.
// The provided context controls the lifetime of the watch loop; cancel it
// (e.g. on SIGINT/SIGTERM) for a graceful shutdown.
func (c *IMAPClient) Watch(ctx context.Context, opts WatchOptions, onChange ChangeFunc) error {
	opts.setDefaults()
	log := opts.Log.With("folder", opts.Folder)

	if err := c.ensureConnected(); err != nil {
		return err
	}
	defer c.Close()
	log.Info("connected", "host", c.config.Host)

	if err := c.selectFolder(ctx, opts.Folder, ReadWrite); err != nil {
		return err
	}

	supportsIDLE := c.client.Caps().Has(imap.CapIdle)
	if !supportsIDLE && !opts.PollOnly {
		log.Warn("server doesn't support IDLE, falling back to polling", "interval_sec", opts.PollInterval)
	}

	c.runChange(ctx, log, onChange)

	if opts.Once {
		log.Info("one-time processing complete, exiting")
		return nil
	}

	if supportsIDLE && !opts.PollOnly {
		return c.watchIDLE(ctx, log, opts, onChange)
	}
	return c.watchPoll(ctx, log, opts, onChange)
}

// runChange calls onChange, logging failures. A failed run does not stop
// the watch loop.
func (c *IMAPClient) runChange(ctx context.Context, log *slog.Logger, onChange ChangeFunc) {
	if err := onChange(ctx); err != nil && ctx.Err() == nil {
		log.Error("failed to process changes", "error", err)
	}
}

// watchIDLE watches for new emails using IMAP IDLE
func (c *IMAPClient) watchIDLE(ctx context.Context, log *slog.Logger, opts WatchOptions, onChange ChangeFunc) error {
	idleTimeout := time.Duration(opts.IdleKeepAlive) * time.Second
	log.Info("IDLE mode started", "keep_alive", idleTimeout)

	for {
		// Check context before starting a new IDLE cycle
		if ctx.Err() != nil {
			log.Info("shutting down (context cancelled)")
			return nil
		}

		// onChange may have selected another folder or expunged.
		if err := c.selectFolder(ctx, opts.Folder, ReadWrite); err != nil {
			log.Error("failed to select folder", "error", err)
			if err := c.reconnect(ctx, log, opts); err != nil {
				return err
			}
			continue
		}

		idleCmd, err := c.client.Idle()
		if err != nil {
			return fmt.Errorf("IDLE start failed: %w", err)
		}

		// The buffered channel lets the goroutine exit even if we time
		// out first; idleCmd.Close() makes Wait() return promptly.
		done := make(chan error, 1)
		go func() {
			done <- idleCmd.Wait()
		}()

		timer := time.NewTimer(idleTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			idleCmd.Close()
			<-done
			log.Info("shutting down (context cancelled)")
			return nil

		case <-timer.C:
			idleCmd.Close()
			<-done
			log.Debug("IDLE timeout, refreshing")

		case err := <-done:
			timer.Stop()
			idleCmd.Close()
			if err != nil {
				log.Error("IDLE failed", "error", err)
				if err := c.reconnect(ctx, log, opts); err != nil {
					return err
				}
				continue
			}
			log.Debug("IDLE response received")
		}

		c.runChange(ctx, log, onChange)

		if err := c.Ping(); err != nil {
			log.Error("NOOP failed", "error", err)
			if err := c.reconnect(ctx, log, opts); err != nil {
				return err
			}
		}
	}
}

// watchPoll watches for new emails using polling
func (c *IMAPClient) watchPoll(ctx context.Context, log *slog.Logger, opts WatchOptions, onChange ChangeFunc) error {
	interval := time.Duration(opts.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("polling mode started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down (context cancelled)")
			return nil

		case <-ticker.C:
			c.runChange(ctx, log, onChange)

			// NOOP to keep connection alive
			if err := c.Ping(); err != nil {
				log.Error("NOOP failed", "error", err)
				if err := c.reconnect(ctx, log, opts); err != nil {
					return err
				}
			}
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
func (c *IMAPClient) reconnect(ctx context.Context, log *slog.Logger, opts WatchOptions) error {
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		waitTime := time.Duration(1<<uint(attempt)) * time.Second
		if waitTime > 30*time.Second {
			waitTime = 30 * time.Second
		}

		log.Warn("connection lost, reconnecting",
			"wait", waitTime, "attempt", attempt+1, "max_retries", opts.MaxRetries)

		// Check context cancellation during backoff wait
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		c.Close()
		if err := c.Connect(); err != nil {
			log.Error("reconnect failed", "error", err)
			continue
		}

		if err := c.selectFolder(ctx, opts.Folder, ReadWrite); err != nil {
			c.Close()
			log.Error("failed to select folder after reconnect", "error", err)
			continue
		}

		log.Info("reconnected")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", opts.MaxRetries)
}
