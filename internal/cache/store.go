// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store is the SQLite backing file: one table for cache entries, one for
// the identifier blacklist. Writes are serialised through a single mutex;
// reads share the database/sql pool. Deleting the file resets caches and
// blacklist and nothing else.
type Store struct {
	db *sql.DB

	// writeMu serialises writers. SQLite allows one writer at a time;
	// the mutex keeps contention out of the busy-timeout path.
	writeMu sync.Mutex
}

// entryRow mirrors one cache_entries row. Timestamps are unix seconds.
type entryRow struct {
	key       string
	payload   []byte
	kind      string
	createdAt int64
	expiresAt int64
}

// OpenStore opens (or creates) the cache database at path and runs
// migrations. WAL mode with a busy timeout keeps concurrent readers from
// tripping over the writer.
func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}

	return store, nil
}

// Close releases the database handle. Safe to call more than once.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('id-mapping', 'provider-data')),
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_kind ON cache_entries(kind);

	CREATE TABLE IF NOT EXISTS blacklist (
		identifier TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 1,
		first_failure_at INTEGER NOT NULL,
		last_failure_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// getEntry returns the row for key, or (nil, nil) when absent. Expiry is
// enforced by the caller so that expired rows can be deleted on read.
func (s *Store) getEntry(ctx context.Context, key string) (*entryRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, payload, kind, created_at, expires_at FROM cache_entries WHERE key = ?`, key)

	var e entryRow
	err := row.Scan(&e.key, &e.payload, &e.kind, &e.createdAt, &e.expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select cache entry: %w", err)
	}
	return &e, nil
}

// putEntry upserts a cache entry.
func (s *Store) putEntry(ctx context.Context, e entryRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO cache_entries (key, payload, kind, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		kind = excluded.kind,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at`,
		e.key, e.payload, e.kind, e.createdAt, e.expiresAt)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// deleteEntry removes one key. Missing keys are not an error.
func (s *Store) deleteEntry(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// deleteByPrefix removes every key starting with prefix and returns the
// number of rows removed.
func (s *Store) deleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries by prefix: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// deleteExpired removes expired rows of the given kind as of now.
// ID-mapping rows are never passed here; their sentinel expiry makes the
// predicate a no-op for them regardless.
func (s *Store) deleteExpired(ctx context.Context, kind string, now int64) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE kind = ? AND expires_at <= ?`, kind, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// countByKind returns the number of live rows per kind.
func (s *Store) countByKind(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM cache_entries GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan cache entry count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// clearEntries truncates cache rows, all kinds or one.
func (s *Store) clearEntries(ctx context.Context, kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ?`, kind)
	}
	if err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// upsertFailure records one failure for identifier, preserving the first
// failure timestamp across updates.
func (s *Store) upsertFailure(ctx context.Context, identifier, reason string, now int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO blacklist (identifier, reason, failure_count, first_failure_at, last_failure_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(identifier) DO UPDATE SET
		failure_count = failure_count + 1,
		reason = excluded.reason,
		last_failure_at = excluded.last_failure_at`,
		identifier, reason, now, now)
	if err != nil {
		return fmt.Errorf("record blacklist failure: %w", err)
	}
	return nil
}

// getFailure returns the blacklist row for identifier, or (nil, nil).
func (s *Store) getFailure(ctx context.Context, identifier string) (*BlacklistEntry, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT identifier, reason, failure_count, first_failure_at, last_failure_at
	FROM blacklist WHERE identifier = ?`, identifier)

	var e BlacklistEntry
	var first, last int64
	err := row.Scan(&e.Identifier, &e.Reason, &e.FailureCount, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select blacklist entry: %w", err)
	}
	e.FirstFailureAt = time.Unix(first, 0).UTC()
	e.LastFailureAt = time.Unix(last, 0).UTC()
	return &e, nil
}

// countBlacklist returns the number of blacklist rows.
func (s *Store) countBlacklist(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count blacklist entries: %w", err)
	}
	return n, nil
}

// clearBlacklist truncates the blacklist table.
func (s *Store) clearBlacklist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("clear blacklist: %w", err)
	}
	return nil
}
