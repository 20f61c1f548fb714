package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema keeps the FTS index in sync with the base table through triggers, so
// writers never touch memory_fts directly.
const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    content          TEXT NOT NULL,
    metadata         TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    last_accessed_at TEXT,
    access_count     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_memory_access ON memory_entries(access_count, last_accessed_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
    content,
    metadata,
    content='memory_entries',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memory_ai AFTER INSERT ON memory_entries BEGIN
    INSERT INTO memory_fts(rowid, content, metadata)
    VALUES (new.id, new.content, new.metadata);
END;

CREATE TRIGGER IF NOT EXISTS memory_ad AFTER DELETE ON memory_entries BEGIN
    INSERT INTO memory_fts(memory_fts, rowid, content, metadata)
    VALUES ('delete', old.id, old.content, old.metadata);
END;

CREATE TRIGGER IF NOT EXISTS memory_au AFTER UPDATE OF content, metadata ON memory_entries BEGIN
    INSERT INTO memory_fts(memory_fts, rowid, content, metadata)
    VALUES ('delete', old.id, old.content, old.metadata);
    INSERT INTO memory_fts(rowid, content, metadata)
    VALUES (new.id, new.content, new.metadata);
END;
`

func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dbError("open database", err)
	}

	// Single writer; the driver serializes everything through one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, dbError(fmt.Sprintf("apply %s", p), err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, dbError("initialize schema", err)
	}

	return db, nil
}
