// Package syncstate tracks, per identity, the timestamp of the last applied
// replicated mutation. It is the sole input to the last-writer-wins merge
// rule: an incoming update is applied only if its timestamp is strictly
// greater than the recorded one.
package syncstate

import (
	"context"
	"sync"

	"chaindir/pkg/domain"
)

// State is the per-identity last-applied-timestamp register. Values are
// monotonically non-decreasing; a zero value means no replicated mutation
// has ever been applied for that identity.
type State interface {
	LastApplied(ctx context.Context, id domain.IdentityID) (domain.Timestamp, error)
	Advance(ctx context.Context, id domain.IdentityID, ts domain.Timestamp) error
}

// InMemory is the map-backed State.
type InMemory struct {
	mu   sync.RWMutex
	last map[domain.IdentityID]domain.Timestamp
}

func NewInMemory() *InMemory {
	return &InMemory{last: make(map[domain.IdentityID]domain.Timestamp)}
}

var _ State = (*InMemory)(nil)

func (s *InMemory) LastApplied(_ context.Context, id domain.IdentityID) (domain.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[id], nil
}

func (s *InMemory) Advance(_ context.Context, id domain.IdentityID, ts domain.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.last[id] {
		s.last[id] = ts
	}
	return nil
}
