package resource

import (
	"sync/atomic"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// snapshot is one consistent point-in-time view of the Resource table.
type snapshot struct {
	resources []*domain.Resource
	referrers []domain.ReferrerPattern
}

// Store holds the Resource table (§5 "Resource table: read-mostly, rewritten
// only at configuration reload; readers must see a consistent snapshot").
// Readers call Resources/Referrers and get back the list in effect at the
// moment of the call; a concurrent Swap never leaves a reader holding a
// half-updated view, since the whole pair is replaced as one atomic pointer.
type Store struct {
	ptr atomic.Pointer[snapshot]
}

// NewStore constructs a Store from an initial configuration.
func NewStore(resources []*domain.Resource, referrers []domain.ReferrerPattern) *Store {
	s := &Store{}
	s.Swap(resources, referrers)
	return s
}

// Resources returns the currently configured Resource list.
func (s *Store) Resources() []*domain.Resource {
	return s.ptr.Load().resources
}

// Referrers returns the currently configured ReferrerPattern allow-list.
func (s *Store) Referrers() []domain.ReferrerPattern {
	return s.ptr.Load().referrers
}

// Swap atomically replaces both the Resource list and the referrer
// allow-list, e.g. in response to a config reload (§12).
func (s *Store) Swap(resources []*domain.Resource, referrers []domain.ReferrerPattern) {
	s.ptr.Store(&snapshot{resources: resources, referrers: referrers})
}
