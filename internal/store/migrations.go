package store

// migration holds a single schema migration with its target version.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Versions must be
// sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	uid            TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL DEFAULT '',
	thread_id      TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	sender         TEXT NOT NULL DEFAULT '',
	to_recipients  TEXT NOT NULL DEFAULT '',
	cc_recipients  TEXT NOT NULL DEFAULT '',
	received_at    DATETIME NOT NULL,
	last_seen_at   DATETIME NOT NULL,
	folder         TEXT NOT NULL DEFAULT '',
	target_folder  TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending',
	needs_decision INTEGER NOT NULL DEFAULT 0,
	session_id     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS folder_hints (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sender       TEXT NOT NULL,
	folder       TEXT NOT NULL,
	weight       REAL NOT NULL DEFAULT 1.0,
	last_used_at DATETIME NOT NULL,
	UNIQUE (sender, folder)
);

CREATE TABLE IF NOT EXISTS calendar_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	uid         TEXT NOT NULL UNIQUE,
	thread_id   TEXT NOT NULL DEFAULT '',
	provider    TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	calendar    TEXT NOT NULL,
	starts_at   DATETIME NOT NULL,
	ends_at     DATETIME NOT NULL,
	timezone    TEXT NOT NULL DEFAULT 'UTC',
	location    TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	raw_payload TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conflict_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	calendar      TEXT NOT NULL,
	conflict_type TEXT NOT NULL,
	details       TEXT NOT NULL DEFAULT '',
	resolved      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS action_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	email_uid  TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS undo_tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	token      TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender);
CREATE INDEX IF NOT EXISTS idx_emails_session_id ON emails(session_id);
CREATE INDEX IF NOT EXISTS idx_folder_hints_sender ON folder_hints(sender);
CREATE INDEX IF NOT EXISTS idx_calendar_events_calendar ON calendar_events(calendar);
CREATE INDEX IF NOT EXISTS idx_action_logs_session_id ON action_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_undo_tokens_session_id ON undo_tokens(session_id);
`,
	},
}
