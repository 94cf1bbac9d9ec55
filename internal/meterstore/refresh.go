package meterstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// rowStore is the subset of PostgresStore/MemStore the Refresher needs.
type rowStore interface {
	EnsureRow(ctx context.Context, resourceURL, referrerKey string) error
	DropAll(ctx context.Context) error
}

// ResourceProvider returns the currently configured resources.
type ResourceProvider func() []*domain.Resource

// ReferrerProvider returns the currently configured referrer patterns.
type ReferrerProvider func() []domain.ReferrerPattern

// Refresher periodically repopulates a meter row for every (Resource,
// ReferrerPattern) pair that has a rate cap, so a resource or referrer
// pattern introduced by a config reload starts admitting requests
// immediately rather than waiting for its first request to create the row
// (§4.6 Refresh). Scheduling is cron-driven, matching the platform's
// background-job idiom, rather than a bare ticker.
type Refresher struct {
	store     rowStore
	resources ResourceProvider
	referrers ReferrerProvider
	cronSpec  string
	c         *cron.Cron
}

// defaultRefreshSpec runs the refresh sweep every 30 seconds, the same
// default interval the platform's own scheduler used for its tick loop.
const defaultRefreshSpec = "@every 30s"

// NewRefresher constructs a Refresher. An empty cronSpec falls back to
// defaultRefreshSpec.
func NewRefresher(store rowStore, resources ResourceProvider, referrers ReferrerProvider, cronSpec string) *Refresher {
	if cronSpec == "" {
		cronSpec = defaultRefreshSpec
	}
	return &Refresher{store: store, resources: resources, referrers: referrers, cronSpec: cronSpec}
}

// Start schedules the refresh job and begins running it in the background.
func (r *Refresher) Start(ctx context.Context) error {
	r.c = cron.New()
	_, err := r.c.AddFunc(r.cronSpec, func() { r.Refresh(ctx) })
	if err != nil {
		return fmt.Errorf("meterstore: schedule refresh job %q: %w", r.cronSpec, err)
	}
	r.c.Start()
	return nil
}

// Stop halts the background job and waits for any in-flight run to finish.
func (r *Refresher) Stop() {
	if r.c == nil {
		return
	}
	stopCtx := r.c.Stop()
	<-stopCtx.Done()
}

// Refresh ensures a meter row exists for every (Resource, ReferrerPattern)
// pair among rate-capped resources, without disturbing any row that already
// exists. This is the periodic sweep (run every tick of cronSpec) that picks
// up resources or referrer patterns added since startup — it must stay
// additive, since most ticks see no configuration change and destructively
// resetting live counters on a routine sweep would undermine the Rate
// Limiter it backs.
func (r *Refresher) Refresh(ctx context.Context) {
	r.populate(ctx)
}

// Reload implements §4.6 Refresh's "if the Resource table changes" case: it
// drops every meter row and repopulates from scratch, so a resource that was
// reconfigured or removed cannot leave a stale counter behind. Any in-flight
// window is lost — that loss is the documented cost of a config reload, not
// a bug. The admin reload handler (§12) calls this synchronously, after
// swapping in the new resource table, instead of the additive Refresh.
func (r *Refresher) Reload(ctx context.Context) {
	if err := r.store.DropAll(ctx); err != nil {
		slog.Error("meterstore: reload drop all rows failed", "error", err)
		return
	}
	r.populate(ctx)
}

// populate ensures a meter row exists for every (Resource, ReferrerPattern)
// pair among rate-capped resources.
func (r *Refresher) populate(ctx context.Context) {
	resources := r.resources()
	keys := referrerKeys(r.referrers())

	for _, res := range resources {
		if !res.HasRateCap() {
			continue
		}
		for _, key := range keys {
			if err := r.store.EnsureRow(ctx, res.URL, key); err != nil {
				slog.Error("meterstore: refresh ensure row failed",
					"resource_url", res.URL, "referrer_key", key, "error", err)
			}
		}
	}
}

// referrerKeys collects the distinct canonical keys across patterns,
// including the accept-any sentinel when present.
func referrerKeys(patterns []domain.ReferrerPattern) []string {
	seen := make(map[string]bool, len(patterns))
	keys := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p.Key == "" || seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		keys = append(keys, p.Key)
	}
	return keys
}
