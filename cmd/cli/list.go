package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/identity"
)

type listFlags struct {
	folder     string
	limit      int
	unreadOnly bool
}

func parseListFlags(args []string) listFlags {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var f listFlags
	fs.StringVar(&f.folder, "folder", "INBOX", "Folder to list")
	fs.IntVar(&f.limit, "limit", email.DefaultListLimit, "Maximum messages to show")
	fs.BoolVar(&f.unreadOnly, "unread-only", false, "Show only unread messages")
	if err := fs.Parse(args); err != nil {
		fatal("list: %v", err)
	}
	return f
}

func (a *app) handleList(ctx context.Context, acc *config.AccountConfig, f listFlags) error {
	client, err := a.connect(acc)
	if err != nil {
		return err
	}

	result, err := email.ListMessages(ctx, client, f.folder, f.limit)
	if err != nil {
		return err
	}

	fmt.Printf("Folder: %s\n", result.Folder)
	fmt.Printf("Total: %d, Unread: %d\n\n", result.Total, result.Unread)

	for i, msg := range result.Messages {
		if f.unreadOnly && msg.Flags.Seen {
			continue
		}

		status := "✗"
		if msg.Flags.Seen {
			status = "✓"
		}

		fmt.Printf("[%d] UID:%d %s From: %s\n", i+1, msg.UID, status, formatFrom(msg.From))
		fmt.Printf("    Subject: %s\n", truncate(msg.Subject, 100))
		if !msg.Date.IsZero() {
			fmt.Printf("    Date: %s\n", msg.Date.Format(time.RFC1123))
		}
		fmt.Printf("    ID: %s\n", identity.Of(a.log, msg.Headers))
		if a.verbose && len(msg.Flags.Keywords) > 0 {
			fmt.Printf("    Keywords: %s\n", strings.Join(msg.Flags.Keywords, " "))
		}
		fmt.Println()
	}
	return nil
}
