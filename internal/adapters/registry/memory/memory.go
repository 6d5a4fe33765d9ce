// Package memory implements an in-process registration store.
package memory

import (
	"context"
	"sync"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

type key struct {
	host   domain.Host
	metric domain.Metric
}

// Store keeps registrations in memory; nothing survives the process.
type Store struct {
	done map[key]struct{}
	mu   sync.RWMutex
}

var _ ports.RegistrationStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{done: make(map[key]struct{})}
}

// Seed copies the registrations src already knows for host and metrics.
func Seed(ctx context.Context, src ports.RegistrationStore, host domain.Host, metrics []domain.Metric) (*Store, error) {
	s := New()
	for _, m := range metrics {
		ok, err := src.IsRegistered(ctx, host, m)
		if err != nil {
			return nil, err
		}
		if ok {
			s.done[key{host, m}] = struct{}{}
		}
	}
	return s, nil
}

// IsRegistered reports whether MarkRegistered has been called for host and m.
func (s *Store) IsRegistered(_ context.Context, host domain.Host, m domain.Metric) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[key{host, m}]
	return ok, nil
}

// MarkRegistered records the registration.
func (s *Store) MarkRegistered(_ context.Context, host domain.Host, m domain.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key{host, m}] = struct{}{}
	return nil
}

// Len reports the number of recorded registrations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.done)
}
