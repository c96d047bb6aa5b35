package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/saiten/internal/errs"
)

// SQLiteStore implements ObjectStore using a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: o.now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		key TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		size INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces the object at key.
func (s *SQLiteStore) Put(ctx context.Context, key string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (key, body, size, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, size = excluded.size, updated_at = excluded.updated_at`,
		key, body, len(body), s.now().UnixNano(),
	)
	if err != nil {
		return errs.Upstream(err, "put object %s", key)
	}
	return nil
}

// Get returns the object body.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM objects WHERE key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("object not found: %s", key)
	}
	if err != nil {
		return nil, errs.Upstream(err, "get object %s", key)
	}
	return body, nil
}

// List returns objects whose key starts with prefix, ordered by key.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size, updated_at FROM objects WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix,
	)
	if err != nil {
		return nil, errs.Upstream(err, "list objects %s", prefix)
	}
	defer rows.Close()

	var out []ObjectInfo
	for rows.Next() {
		var info ObjectInfo
		var updated int64
		if err := rows.Scan(&info.Key, &info.Size, &updated); err != nil {
			return nil, errs.Upstream(err, "scan object row")
		}
		info.UpdatedAt = time.Unix(0, updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Upstream(err, "list objects %s", prefix)
	}
	return out, nil
}

// Delete removes the object at key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
	if err != nil {
		return errs.Upstream(err, "delete object %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("object not found: %s", key)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
