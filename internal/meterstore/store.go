package meterstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable MeterStore backing the Rate Limiter (§4.6).
// Every admission decision runs inside one transaction that locks the target
// row with SELECT ... FOR UPDATE, so two requests racing on the same
// (resource, referrer) pair are serialized rather than both reading a stale
// count — the same atomicity guarantee PublishPipelineTx gave pipeline
// publication in the platform this store is descended from.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Admit implements ratelimit.MeterStore, realizing §4.6's fixed-window
// sliding-window algorithm as a single transaction:
//  1. no row for (resourceURL, referrerKey): insert one, admit.
//  2. a row exists and is still within its current window: admit iff
//     window_count < cap, else reject, always incrementing the lifetime
//     counter that matched.
//  3. the window has expired: reset to a fresh window starting at now, the
//     first request to arrive after expiry — never tumbled to the next
//     fixed boundary — reset window_count to 1, admit.
func (s *PostgresStore) Admit(ctx context.Context, resourceURL, referrerKey string, windowSeconds float64, cap int, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("meterstore: begin admit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var count int
	var windowStart time.Time
	err = tx.QueryRow(ctx,
		`SELECT window_count, window_start FROM meter_rows
		 WHERE resource_url = $1 AND referrer_key = $2 FOR UPDATE`,
		resourceURL, referrerKey).Scan(&count, &windowStart)

	if errors.Is(err, pgx.ErrNoRows) {
		// Branch 1: first request for this pair.
		if _, err := tx.Exec(ctx,
			`INSERT INTO meter_rows (resource_url, referrer_key, window_count, window_start, total, rejected)
			 VALUES ($1, $2, 1, $3, 1, 0)`,
			resourceURL, referrerKey, now); err != nil {
			return false, fmt.Errorf("meterstore: insert meter row: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("meterstore: commit admit tx: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("meterstore: lock meter row: %w", err)
	}

	window := time.Duration(windowSeconds * float64(time.Second))
	elapsed := now.Sub(windowStart)

	var admitted bool
	if elapsed < window {
		// Branch 2: still inside the current window.
		if count < cap {
			admitted = true
			_, err = tx.Exec(ctx,
				`UPDATE meter_rows SET window_count = window_count + 1, total = total + 1
				 WHERE resource_url = $1 AND referrer_key = $2`, resourceURL, referrerKey)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE meter_rows SET rejected = rejected + 1
				 WHERE resource_url = $1 AND referrer_key = $2`, resourceURL, referrerKey)
		}
	} else {
		// Branch 3: the window has expired — reset to a fresh window
		// starting now, the first request to arrive after expiry (§4.6).
		admitted = true
		_, err = tx.Exec(ctx,
			`UPDATE meter_rows SET window_count = 1, window_start = $3, total = total + 1
			 WHERE resource_url = $1 AND referrer_key = $2`,
			resourceURL, referrerKey, now)
	}
	if err != nil {
		return false, fmt.Errorf("meterstore: update meter row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("meterstore: commit admit tx: %w", err)
	}
	return admitted, nil
}

// EnsureRow creates a zero-count row for (resourceURL, referrerKey) if one
// does not already exist, leaving an existing row's count and window
// untouched. Refresh uses this to pre-populate rows for newly configured
// resources and referrer patterns after a config reload (§4.6 Refresh).
func (s *PostgresStore) EnsureRow(ctx context.Context, resourceURL, referrerKey string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meter_rows (resource_url, referrer_key, window_count, window_start, total, rejected)
		 VALUES ($1, $2, 0, now(), 0, 0)
		 ON CONFLICT (resource_url, referrer_key) DO NOTHING`,
		resourceURL, referrerKey)
	if err != nil {
		return fmt.Errorf("meterstore: ensure row: %w", err)
	}
	return nil
}

// DropAll deletes every meter row. Reload calls this before repopulating, so
// a config change that alters the Resource table starts every row fresh —
// any in-flight windows are lost, as §4.6 Refresh documents.
func (s *PostgresStore) DropAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM meter_rows`); err != nil {
		return fmt.Errorf("meterstore: drop all meter rows: %w", err)
	}
	return nil
}

// Counters returns the lifetime total/rejected counts for one meter row,
// used by the §6 /status page. ok is false if no row exists yet.
func (s *PostgresStore) Counters(ctx context.Context, resourceURL, referrerKey string) (total, rejected int64, ok bool, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT total, rejected FROM meter_rows WHERE resource_url = $1 AND referrer_key = $2`,
		resourceURL, referrerKey).Scan(&total, &rejected)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("meterstore: read counters: %w", err)
	}
	return total, rejected, true, nil
}
