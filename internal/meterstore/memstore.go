package meterstore

import (
	"context"
	"sync"
	"time"
)

type memRow struct {
	windowCount int
	windowStart time.Time
	total       int64
	rejected    int64
}

// MemStore is an in-memory MeterStore, grounded on the teacher's generic
// TTL Cache in concurrency shape (one mutex guarding a map). It implements
// the exact admission semantics PostgresStore does, so unit tests of the
// Rate Limiter and everything above it don't need a live Postgres instance.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]*memRow
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*memRow)}
}

func rowKey(resourceURL, referrerKey string) string {
	return resourceURL + "\x00" + referrerKey
}

// Admit implements ratelimit.MeterStore with the same admission algorithm as
// PostgresStore.Admit, under a single mutex instead of a row lock.
func (s *MemStore) Admit(_ context.Context, resourceURL, referrerKey string, windowSeconds float64, cap int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(resourceURL, referrerKey)
	row, ok := s.rows[key]
	if !ok {
		s.rows[key] = &memRow{windowCount: 1, windowStart: now, total: 1}
		return true, nil
	}

	window := time.Duration(windowSeconds * float64(time.Second))
	elapsed := now.Sub(row.windowStart)

	if elapsed < window {
		if row.windowCount < cap {
			row.windowCount++
			row.total++
			return true, nil
		}
		row.rejected++
		return false, nil
	}

	// The window has expired: reset to a fresh window starting now, the
	// first request to arrive after expiry (§4.6).
	row.windowStart = now
	row.windowCount = 1
	row.total++
	return true, nil
}

// EnsureRow creates a zero-count row if one does not already exist.
func (s *MemStore) EnsureRow(_ context.Context, resourceURL, referrerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(resourceURL, referrerKey)
	if _, ok := s.rows[key]; !ok {
		s.rows[key] = &memRow{windowStart: time.Now()}
	}
	return nil
}

// DropAll deletes every row. Reload calls this before repopulating, so a
// config change that alters the Resource table starts every row fresh — any
// in-flight windows are lost, as §4.6 Refresh documents.
func (s *MemStore) DropAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = make(map[string]*memRow)
	return nil
}

// Counters returns the lifetime total/rejected counts for one row.
func (s *MemStore) Counters(_ context.Context, resourceURL, referrerKey string) (total, rejected int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[rowKey(resourceURL, referrerKey)]
	if !exists {
		return 0, 0, false, nil
	}
	return row.total, row.rejected, true, nil
}
