// Package store persists Records, Vectors, and Clusters in a single
// SQLite database file, keeping a full-text index synchronized with
// the memory table via triggers (§3, §4.1).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// querier is satisfied by both *DB (via its embedded *sql.DB) and
// *sql.Tx, letting the Store's write primitives run against either a
// bare connection or a transaction without duplicating their SQL.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Open creates or opens memory.db at the given path, runs schema
// initialization, and configures WAL mode. One connection is held for
// the process lifetime (§5 shared-resource policy).
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer (§5); avoids SQLITE_BUSY under WAL

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  content TEXT NOT NULL,
  structured TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  keywords TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT 'context',
  domain TEXT NOT NULL DEFAULT 'general',
  confidence REAL NOT NULL DEFAULT 0.5,
  evidence_count INTEGER NOT NULL DEFAULT 0,
  access_count INTEGER NOT NULL DEFAULT 0,
  last_accessed_at INTEGER,
  cluster_id INTEGER REFERENCES clusters(id) ON DELETE SET NULL,
  source TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  promoted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_memories_type_domain ON memories(type, domain, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_cluster ON memories(cluster_id);
CREATE INDEX IF NOT EXISTS idx_memories_domain_unclustered ON memories(domain, cluster_id, confidence DESC);

CREATE TABLE IF NOT EXISTS clusters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  theme TEXT NOT NULL DEFAULT '',
  centroid BLOB,
  member_count INTEGER NOT NULL DEFAULT 0,
  avg_confidence REAL NOT NULL DEFAULT 0,
  domain TEXT NOT NULL DEFAULT 'general',
  status TEXT NOT NULL DEFAULT 'growing',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  evolved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_clusters_domain_status ON clusters(domain, status);

CREATE TABLE IF NOT EXISTS vectors (
  id INTEGER PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
  vector BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS validations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  record_id INTEGER NOT NULL,
  is_valid INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (record_id) REFERENCES memories(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_validations_record ON validations(record_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	fts := `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
  content, structured, summary, keywords,
  content='memories', content_rowid='id'
);
`
	if _, err := db.Exec(fts); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
  INSERT INTO memories_fts(rowid, content, structured, summary, keywords)
  VALUES (NEW.id, NEW.content, NEW.structured, NEW.summary, NEW.keywords);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, structured, summary, keywords)
  VALUES ('delete', OLD.id, OLD.content, OLD.structured, OLD.summary, OLD.keywords);
END;`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
  INSERT INTO memories_fts(memories_fts, rowid, content, structured, summary, keywords)
  VALUES ('delete', OLD.id, OLD.content, OLD.structured, OLD.summary, OLD.keywords);
  INSERT INTO memories_fts(rowid, content, structured, summary, keywords)
  VALUES (NEW.id, NEW.content, NEW.structured, NEW.summary, NEW.keywords);
END;`,
	}

	for _, t := range triggers {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}

	return nil
}

// runMigrations applies incremental schema changes, each guarded by an
// idempotent columnExists check so opening an up-to-date database is a
// no-op. None are needed yet; the hook stays in place for the next one.
func runMigrations(db *sql.DB) error {
	return nil
}

// WithTx runs fn inside a single transaction, committing on success
// and rolling back on error or panic — the §4.1/§7 guarantee that a
// public call's writes land atomically or not at all.
func (db *DB) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordCount returns the total number of records in the database.
func (db *DB) RecordCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
