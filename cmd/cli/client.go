package main

import (
	"fmt"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/store"
)

// newIMAPClient builds and connects a client for the account.
func newIMAPClient(acc *config.AccountConfig) (*email.IMAPClient, error) {
	if acc.IMAP.Host == "" {
		return nil, fmt.Errorf("IMAP not configured for account %s", acc.Email)
	}
	client, err := email.NewIMAPClient(email.IMAPConfig{
		Host:          acc.IMAP.Host,
		Port:          acc.IMAP.Port,
		Username:      acc.IMAP.Username,
		Password:      acc.IMAP.Password,
		SSL:           acc.IMAP.SSL,
		StartTLS:      acc.IMAP.StartTLS,
		AuthMechanism: acc.IMAP.AuthMechanism,
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acc.Name, err)
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// connect opens a session for acc and registers it. Registered sessions
// are closed by closeSessions when the command returns.
func (a *app) connect(acc *config.AccountConfig) (*email.IMAPClient, error) {
	client, err := newIMAPClient(acc)
	if err != nil {
		return nil, err
	}
	a.track(client)
	return client, nil
}

func (a *app) track(s email.Session) string {
	id := a.sessions.Register(s)
	if a.log != nil {
		a.log.Debug("session opened", "session", id)
	}
	return id
}

func (a *app) closeSessions() {
	if err := a.sessions.CloseAll(); err != nil && a.log != nil {
		a.log.Warn("closing sessions", "error", err)
	}
}

// openStore opens the row store at path, falling back to the configured one.
func (a *app) openStore(path string) (*store.SQLiteStore, error) {
	if path == "" {
		path = a.cfg.Store.Path
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening row store %s: %w", path, err)
	}
	return st, nil
}
