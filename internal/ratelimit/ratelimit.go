// Package ratelimit implements the sliding fixed-duration window admission
// algorithm (§4.6). It holds no storage of its own: every admission check
// runs through a MeterStore, whose concrete implementations (internal/meterstore)
// own the atomicity guarantee this package depends on.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// MeterStore is the atomic counter collaborator the Limiter depends on.
// Admit must execute the admission algorithm below as a single atomic unit
// per (resourceURL, referrerKey) row — concurrent callers racing on the
// same row must never both be admitted past the per-window cap.
type MeterStore interface {
	// Admit atomically applies §4.6's admission algorithm to the row keyed
	// by (resourceURL, referrerKey) and returns whether the request was let
	// through. windowSeconds and cap together define the sliding window;
	// now is the request's observed time.
	Admit(ctx context.Context, resourceURL, referrerKey string, windowSeconds float64, cap int, now time.Time) (bool, error)
}

// Limiter evaluates the Rate Limiter component (§4.6) against a MeterStore.
type Limiter struct {
	store MeterStore
}

// New constructs a Limiter backed by store.
func New(store MeterStore) *Limiter {
	return &Limiter{store: store}
}

// Allow admits or rejects one request against r's configured rate cap for
// the given referrer key. Resources with no rate cap configured (§3,
// Resource.HasRateCap) are always admitted without consulting the store.
//
// §4.6's admission rules, realized inside MeterStore.Admit:
//  1. no row yet for (resourceURL, referrerKey): create it with count 1,
//     window starting at now; admit.
//  2. a row exists and now is still within [windowStart, windowStart+window):
//     admit iff count < cap, incrementing count; otherwise reject.
//  3. a row exists and now has advanced past windowStart+window (the window
//     has expired, however far past): reset the row to a fresh window
//     starting at now — the first request to arrive after expiry — count 1;
//     admit. The window never tumbles forward to a fixed boundary.
func (l *Limiter) Allow(ctx context.Context, r *domain.Resource, referrerKey string, now time.Time) (bool, error) {
	if !r.HasRateCap() {
		return true, nil
	}
	admitted, err := l.store.Admit(ctx, r.URL, referrerKey, r.WindowSeconds(), r.RateLimit, now)
	if err != nil {
		return false, fmt.Errorf("ratelimit: admit %s/%s: %w", r.URL, referrerKey, err)
	}
	return admitted, nil
}
