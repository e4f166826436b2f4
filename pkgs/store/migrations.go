package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	folder       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_key    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	received   DATETIME,
	subject    TEXT NOT NULL DEFAULT '',
	text_body  TEXT,
	html_body  TEXT,
	from_addr  TEXT NOT NULL DEFAULT '',
	to_addrs   TEXT,
	cc_addrs   TEXT,
	PRIMARY KEY (run_id, row_key)
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(run_id, message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS attachments (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_key    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	filename   TEXT NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (run_id, row_key)
);

CREATE TABLE IF NOT EXISTS headers (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_key    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (run_id, row_key)
);

CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(run_id, message_id);
CREATE INDEX IF NOT EXISTS idx_headers_message_id ON headers(run_id, message_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
