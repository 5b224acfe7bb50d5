// Package memory implements an in-process attest.Sink used by default when
// no external sink endpoint is configured, and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/google/uuid"
)

// Store is an in-memory mirror of the attestation sink.
type Store struct {
	mu   sync.RWMutex
	byID map[string]attest.Attestation
	all  []attest.Attestation
}

// New creates an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]attest.Attestation)}
}

var _ attest.Sink = (*Store)(nil)

func (s *Store) GenerateAndCreate(ctx context.Context, cmd attest.Command) (attest.Attestation, error) {
	now := cmd.Timestamp
	if now == 0 {
		now = time.Now().Unix()
	}
	a := attest.Attestation{
		ID:         uuid.New().String(),
		Subjects:   cmd.Subjects,
		Predicates: cmd.Predicates,
		Contexts:   cmd.Contexts,
		Actors:     cmd.Actors,
		Timestamp:  now,
		Attributes: cmd.Attributes,
		CreatedAt:  time.Now().Unix(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
	s.all = append(s.all, a)
	return a, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *Store) Query(ctx context.Context, filter attest.Filter) ([]attest.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []attest.Attestation
	for _, a := range s.all {
		if !matches(a, filter) {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func matches(a attest.Attestation, f attest.Filter) bool {
	if len(f.Subjects) > 0 && !anyOverlap(a.Subjects, f.Subjects) {
		return false
	}
	if len(f.Predicates) > 0 && !anyOverlap(a.Predicates, f.Predicates) {
		return false
	}
	if len(f.Contexts) > 0 && !anyOverlap(a.Contexts, f.Contexts) {
		return false
	}
	if len(f.Actors) > 0 && !anyOverlap(a.Actors, f.Actors) {
		return false
	}
	if f.TimeStart > 0 && a.Timestamp < f.TimeStart {
		return false
	}
	if f.TimeEnd > 0 && a.Timestamp > f.TimeEnd {
		return false
	}
	return true
}

func anyOverlap(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
