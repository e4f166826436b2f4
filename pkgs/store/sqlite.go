// Package store persists retrieval rows in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/emx-mail/mailrows/pkgs/retrieval"
)

// SQLiteStore keeps the rows of every retrieval run, tagged with the run id.
type SQLiteStore struct {
	db *sqlx.DB
}

// Run is one stored retrieval call.
type Run struct {
	ID          string       `db:"id"`
	Folder      string       `db:"folder"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

// Open opens (or creates) a SQLite database at dbPath and runs any
// pending schema migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A batch holds its transaction for a whole retrieval; a single
	// connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Batch is a retrieval.Sink writing one run inside a transaction. Rows
// become visible only after Commit.
type Batch struct {
	tx    *sqlx.Tx
	runID string

	messageStmt    *sqlx.Stmt
	attachmentStmt *sqlx.Stmt
	headerStmt     *sqlx.Stmt
}

// Begin starts a new run for folder. Canceling ctx fails the statements
// that use it but does not end the transaction; only Commit or Rollback do.
func (s *SQLiteStore) Begin(ctx context.Context, folder string) (*Batch, error) {
	tx, err := s.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	b := &Batch{tx: tx, runID: uuid.NewString()}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, folder, started_at) VALUES (?, ?, ?)",
		b.runID, folder, time.Now().UTC(),
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("creating run: %w", err)
	}

	stmts := []struct {
		dst   **sqlx.Stmt
		query string
	}{
		{&b.messageStmt, `
			INSERT INTO messages (
				run_id, row_key, message_id, received, subject,
				text_body, html_body, from_addr, to_addrs, cc_addrs
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&b.attachmentStmt, `
			INSERT INTO attachments (run_id, row_key, message_id, filename, data)
			VALUES (?, ?, ?, ?, ?)`},
		{&b.headerStmt, `
			INSERT INTO headers (run_id, row_key, message_id, name, value)
			VALUES (?, ?, ?, ?, ?)`},
	}
	for _, st := range stmts {
		stmt, err := tx.PreparexContext(ctx, st.query)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("preparing insert statement: %w", err)
		}
		*st.dst = stmt
	}
	return b, nil
}

// RunID returns the id rows of this batch are tagged with.
func (b *Batch) RunID() string { return b.runID }

func (b *Batch) AddMessage(ctx context.Context, row retrieval.MessageRow) error {
	var received sql.NullTime
	if row.Received.Valid {
		received = sql.NullTime{Time: row.Received.Time.UTC(), Valid: true}
	}
	_, err := b.messageStmt.ExecContext(ctx,
		b.runID, row.Key, row.ID, received, row.Subject,
		row.Text, row.HTML, row.From, row.To, row.Cc,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", row.Key, err)
	}
	return nil
}

func (b *Batch) AddAttachment(ctx context.Context, row retrieval.AttachmentRow) error {
	data := row.Data
	if data == nil {
		data = []byte{}
	}
	if _, err := b.attachmentStmt.ExecContext(ctx, b.runID, row.Key, row.ID, row.Filename, data); err != nil {
		return fmt.Errorf("inserting attachment %s: %w", row.Key, err)
	}
	return nil
}

func (b *Batch) AddHeader(ctx context.Context, row retrieval.HeaderRow) error {
	if _, err := b.headerStmt.ExecContext(ctx, b.runID, row.Key, row.ID, row.Name, row.Value); err != nil {
		return fmt.Errorf("inserting header %s: %w", row.Key, err)
	}
	return nil
}

// Commit marks the run complete and commits all of its rows.
func (b *Batch) Commit(ctx context.Context) error {
	if _, err := b.tx.ExecContext(ctx,
		"UPDATE runs SET completed_at = ? WHERE id = ?", time.Now().UTC(), b.runID,
	); err != nil {
		b.tx.Rollback()
		return fmt.Errorf("completing run %s: %w", b.runID, err)
	}
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", b.runID, err)
	}
	return nil
}

// Rollback discards the run. It is safe to call after Commit.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Runs returns all completed runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		"SELECT id, folder, started_at, completed_at FROM runs WHERE completed_at IS NOT NULL ORDER BY started_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return runs, nil
}

// Identities returns the message identities of a run in row order.
func (s *SQLiteStore) Identities(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT message_id FROM messages WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, fmt.Errorf("querying identities of run %s: %w", runID, err)
	}
	return ids, nil
}

// Messages returns the message rows of a run in row order.
func (s *SQLiteStore) Messages(ctx context.Context, runID string) ([]retrieval.MessageRow, error) {
	var rows []retrieval.MessageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT row_key AS "key", message_id AS id, received, subject,
			text_body AS text, html_body AS html,
			from_addr AS "from", to_addrs AS "to", cc_addrs AS cc
		FROM messages WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying messages of run %s: %w", runID, err)
	}
	return rows, nil
}

// Attachments returns the attachment rows of a run in row order.
func (s *SQLiteStore) Attachments(ctx context.Context, runID string) ([]retrieval.AttachmentRow, error) {
	var rows []retrieval.AttachmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT row_key AS "key", message_id AS id, filename, data
		FROM attachments WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments of run %s: %w", runID, err)
	}
	return rows, nil
}

// Headers returns the header rows of a run in row order.
func (s *SQLiteStore) Headers(ctx context.Context, runID string) ([]retrieval.HeaderRow, error) {
	var rows []retrieval.HeaderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT row_key AS "key", message_id AS id, name, value
		FROM headers WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying headers of run %s: %w", runID, err)
	}
	return rows, nil
}
