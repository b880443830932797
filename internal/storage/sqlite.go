package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

// SQLiteStore persists the log and key/value records in a SQLite file.
type SQLiteStore struct {
	db        *sql.DB
	closeOnce sync.Once
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (and if needed creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", classifySQLite(err))
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS error_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry []byte, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classifySQLite(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO error_log (entry, created_at) VALUES (?, ?)`,
		entry, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert log entry: %w", classifySQLite(err))
	}

	if limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM error_log WHERE id NOT IN (SELECT id FROM error_log ORDER BY id DESC LIMIT ?)`,
			limit,
		); err != nil {
			return fmt.Errorf("trim log: %w", classifySQLite(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classifySQLite(err))
	}
	return nil
}

func (s *SQLiteStore) ReadLog(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM error_log ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", classifySQLite(err))
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var entry []byte
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", classifySQLite(err))
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(err)
	}
	return out, nil
}

func (s *SQLiteStore) ClearLog(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM error_log`); err != nil {
		return fmt.Errorf("clear log: %w", classifySQLite(err))
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, classifySQLite(err))
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, classifySQLite(err))
	}
	return nil
}

func (s *SQLiteStore) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE ?`, CachePrefix+"%"); err != nil {
		return fmt.Errorf("clear cache: %w", classifySQLite(err))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// classifySQLite maps disk-full and corruption result codes onto the
// storage error kinds. Other errors are returned unchanged.
func classifySQLite(err error) error {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_FULL:
		return apperror.Wrap(apperror.KindStorageFull, err, "")
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return apperror.Wrap(apperror.KindStorageCorrupted, err, "")
	default:
		return err
	}
}
