package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements TableStore on a single SQLite file.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Exists reports whether a store file exists at dsn.
func Exists(dsn string) bool {
	info, err := os.Stat(dsn)
	return err == nil && !info.IsDir()
}

// Drop removes the store at dsn along with its WAL side files.
// A missing store is not an error.
func Drop(dsn string) error {
	for _, p := range []string{dsn, dsn + "-wal", dsn + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// OpenSQLite opens or creates the SQLite store file at dsn, creating its
// parent directory as needed.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dsn}, nil
}

// OpenSQLiteReadOnly opens an existing store for reading. The file, its
// directory and the schema bookkeeping table are never created, and writes
// through the returned store fail.
func OpenSQLiteReadOnly(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if !Exists(dsn) {
		return nil, fmt.Errorf("store %s: %w", dsn, fs.ErrNotExist)
	}

	db, err := sql.Open("sqlite", "file:"+dsn+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLiteStore{db: db, path: dsn}, nil
}

// Path returns the store file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CreateTable creates the table if it does not exist.
func (s *SQLiteStore) CreateTable(ctx context.Context, t Table) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, tableDDL(t)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return nil
}

// HasTable reports whether the table exists.
func (s *SQLiteStore) HasTable(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasTableUnlocked(ctx, name)
}

func (s *SQLiteStore) hasTableUnlocked(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", name, err)
	}
	return count > 0, nil
}

// Insert stores data under key. Existing rows are never replaced.
func (s *SQLiteStore) Insert(ctx context.Context, t Table, key int64, data any) error {
	if err := t.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s row %d: %w", t.Name, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireTable(ctx, t.Name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, data) VALUES (?, ?)`, t.Name, t.Key),
		key, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert %s row %d: %w", t.Name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert %s row %d: %w", t.Name, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s row %d: %w", t.Name, key, ErrDuplicateKey)
	}
	return nil
}

// FindOne decodes the row at key into out.
func (s *SQLiteStore) FindOne(ctx context.Context, t Table, key int64, out any) (bool, error) {
	if err := t.validate(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireTable(ctx, t.Name); err != nil {
		return false, err
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE %s = ?`, t.Name, t.Key), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s row %d: %w", t.Name, key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to decode %s row %d: %w", t.Name, key, err)
	}
	return true, nil
}

// List returns all rows of the table ordered by key.
func (s *SQLiteStore) List(ctx context.Context, t Table) ([]Row, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireTable(ctx, t.Name); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, data FROM %s ORDER BY %s`, t.Key, t.Name, t.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			key  int64
			data string
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.Name, err)
		}
		out = append(out, Row{Key: key, Data: json.RawMessage(data)})
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) requireTable(ctx context.Context, name string) error {
	ok, err := s.hasTableUnlocked(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNoTable)
	}
	return nil
}
