// internal/kvstore/kvstore.go
package kvstore

import (
	"context"
	"database/sql"
	"time"
)

// Store is the shared key-value store backing the idempotency locks and the
// quota counters. Both live in the same kv_entries table but under disjoint
// key namespaces ("lock:" vs "quota:") so housekeeping for one can never evict
// the other. Every operation is a single SQL statement, so concurrent worker
// instances get compare-and-set semantics from Postgres row locking.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// SetNX stores value under key if the key is absent or its entry has expired.
// Returns true when this caller now owns the key. A zero ttl means no expiry.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	query := `
        INSERT INTO kv_entries (key, value, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE
        SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
        WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at < NOW()
        RETURNING value
    `
	var got string
	err := s.DB.QueryRowContext(ctx, query, key, value, expiresAt).Scan(&got)
	if err == sql.ErrNoRows {
		// Key exists and has not expired: somebody else holds it.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteIfValue removes the key only when it still holds the given value, so
// an expired-and-stolen lock is never released by its previous owner.
func (s *Store) DeleteIfValue(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1 AND value = $2`, key, value)
	return err
}

// IncrBy atomically adds n to the integer stored under key, creating the entry
// at n if absent, and returns the new total.
func (s *Store) IncrBy(ctx context.Context, key string, n int) (int, error) {
	query := `
        INSERT INTO kv_entries (key, value, expires_at)
        VALUES ($1, $2::text, NULL)
        ON CONFLICT (key) DO UPDATE
        SET value = (kv_entries.value::int + $2)::text
        RETURNING value::int
    `
	var total int
	if err := s.DB.QueryRowContext(ctx, query, key, n).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetInt reads the integer stored under key; absent keys read as zero.
func (s *Store) GetInt(ctx context.Context, key string) (int, error) {
	var v int
	err := s.DB.QueryRowContext(ctx,
		`SELECT value::int FROM kv_entries WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// DeleteExpired prunes entries past their expiry. Run by the reaper.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeletePrefixOlderThan prunes namespaced entries created before the cutoff,
// used to drop stale daily quota counters.
func (s *Store) DeletePrefixOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key LIKE $1 || '%' AND created_at < $2`, prefix, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
