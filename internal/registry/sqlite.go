package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteRegistry implements Registry on a single SQLite table. Expiry is
// stored as unix milliseconds and enforced at read time; expired rows are
// removed by PurgeExpired.
type SQLiteRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRegistry opens (or creates) the database at dsn and initializes
// the schema. The parent directory is created if needed.
func NewSQLiteRegistry(dsn string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(dsn); dir != "" && dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	r := &SQLiteRegistry{db: db, now: time.Now}
	if err := r.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return r, nil
}

// initDB applies PRAGMAs and creates the claims table.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (r *SQLiteRegistry) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := r.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS claims (
			key        TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_claims_expires_at ON claims(expires_at);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	expiry := expiryFor(r.now(), ttl).UnixMilli()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO claims (key, expires_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, expiry)
	if err != nil {
		return fmt.Errorf("writing claim: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Release(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM claims WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting claim: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM claims WHERE key = ? AND expires_at > ?`,
		key, r.now().UnixMilli()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading claim: %w", err)
	}
	return true, nil
}

// PurgeExpired deletes rows whose expiry has passed.
func (r *SQLiteRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM claims WHERE expires_at <= ?`, r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired claims: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (r *SQLiteRegistry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

var (
	_ Registry = (*SQLiteRegistry)(nil)
	_ Purger   = (*SQLiteRegistry)(nil)
)
