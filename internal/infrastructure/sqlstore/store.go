// Package sqlstore keeps per-user preferences in SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"kindlegarden/internal/domain/book"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_settings (
	user_id INTEGER PRIMARY KEY,
	preferred_format TEXT NOT NULL DEFAULT 'azw3',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS user_settings (
	user_id BIGINT PRIMARY KEY,
	preferred_format TEXT NOT NULL DEFAULT 'azw3',
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
)`

// Preference is one stored row.
type Preference struct {
	UserID    int64
	Format    book.Format
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the preference repository.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and creates the schema. For
// sqlite the dsn is a file path whose directory is created if missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var sqlDriver, schema string
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver, schema = DriverSQLite, "sqlite3", sqliteSchema
		if dsn == "" {
			return nil, errors.New("sqlite path is required")
		}
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	case DriverPostgres:
		sqlDriver, schema = "postgres", postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Get returns the user's format, or the default when nothing usable is stored.
func (s *Store) Get(ctx context.Context, userID int64) (book.Format, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT preferred_format FROM user_settings WHERE user_id = ?"), userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return book.DefaultFormat, nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference %d: %w", userID, err)
	}
	format, err := book.ParseFormat(raw)
	if err != nil {
		return book.DefaultFormat, nil
	}
	return format, nil
}

// Set upserts the user's format.
func (s *Store) Set(ctx context.Context, userID int64, format book.Format) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %q", book.ErrUnknownFormat, format)
	}
	query := s.rebind(`
INSERT INTO user_settings (user_id, preferred_format, created_at, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
	preferred_format = excluded.preferred_format,
	updated_at = CURRENT_TIMESTAMP`)
	if _, err := s.db.ExecContext(ctx, query, userID, string(format)); err != nil {
		return fmt.Errorf("set preference %d: %w", userID, err)
	}
	return nil
}

// List returns every stored preference ordered by user.
func (s *Store) List(ctx context.Context) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, preferred_format, created_at, updated_at FROM user_settings ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		var (
			p       Preference
			raw     string
			created sql.NullTime
			updated sql.NullTime
		)
		if err := rows.Scan(&p.UserID, &raw, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.Format = book.Format(raw)
		if !p.Format.Valid() {
			p.Format = book.DefaultFormat
		}
		p.CreatedAt = created.Time
		p.UpdatedAt = updated.Time
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
