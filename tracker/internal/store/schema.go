// CLAUDE:SUMMARY Applies the history schema: entries table, partition indexes, FTS5 index over title and summary.
package store

import "database/sql"

// Schema is the complete history schema.
const Schema = `
-- Append-only history of processed commits and weekly digests
CREATE TABLE IF NOT EXISTS entries (
    id                TEXT PRIMARY KEY,
    kind              TEXT NOT NULL DEFAULT 'commit',
    topic             TEXT NOT NULL,
    language          TEXT NOT NULL,
    source            TEXT NOT NULL,
    logged_at         INTEGER NOT NULL,
    commit_time       INTEGER NOT NULL DEFAULT 0,
    commit_url        TEXT NOT NULL DEFAULT '',
    range_start       INTEGER NOT NULL DEFAULT 0,
    range_end         INTEGER NOT NULL DEFAULT 0,
    title             TEXT NOT NULL DEFAULT '',
    summary           TEXT NOT NULL DEFAULT '',
    reasoning         TEXT NOT NULL DEFAULT '',
    importance        INTEGER NOT NULL DEFAULT 0,
    outcome           TEXT NOT NULL DEFAULT '',
    delivery_status   TEXT NOT NULL DEFAULT 'not_attempted',
    delivery_target   TEXT NOT NULL DEFAULT '',
    payload           TEXT NOT NULL DEFAULT '',
    error_detail      TEXT NOT NULL DEFAULT '',
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entries_commit ON entries(topic, language, source, kind, commit_time);
CREATE INDEX IF NOT EXISTS idx_entries_logged ON entries(topic, language, source, kind, logged_at);
CREATE INDEX IF NOT EXISTS idx_entries_recent ON entries(logged_at DESC);

-- FTS5 over generated titles and summaries
CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
    title, summary, content='entries', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(rowid, title, summary) VALUES (new.rowid, new.title, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, title, summary) VALUES('delete', old.rowid, old.title, old.summary);
END;
`

// Migration001Reasoning adds the reasoning column to databases created
// before importance reasoning was stored.
const Migration001Reasoning = `
ALTER TABLE entries ADD COLUMN reasoning TEXT NOT NULL DEFAULT '';
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	applyColumnMigration(db, "entries", "reasoning", Migration001Reasoning)
	return nil
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
