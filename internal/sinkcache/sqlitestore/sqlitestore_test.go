package sqlitestore

import (
	"path/filepath"
	"testing"

	"github.com/fenwicklabs/harvest/internal/attest"
)

func TestStore_RoundTripsAttestation(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "attest.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	a, err := s.GenerateAndCreate(t.Context(), attest.Command{
		Subjects:   []string{"http://host/p"},
		Predicates: []string{attest.PredicateHasTitle},
		Contexts:   []string{"T"},
		Attributes: map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("GenerateAndCreate: %v", err)
	}

	exists, err := s.Exists(t.Context(), a.ID)
	if err != nil || !exists {
		t.Fatalf("expected existence, got exists=%v err=%v", exists, err)
	}

	results, err := s.Query(t.Context(), attest.Filter{Subjects: []string{"http://host/p"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].Contexts[0] != "T" {
		t.Fatalf("unexpected query results: %+v", results)
	}
}

func TestStore_QueryLimit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "attest.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for i := 0; i < 4; i++ {
		s.GenerateAndCreate(t.Context(), attest.Command{
			Subjects:   []string{"http://host/p"},
			Predicates: []string{attest.PredicateHasImage},
		})
	}

	results, err := s.Query(t.Context(), attest.Filter{Subjects: []string{"http://host/p"}, Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(results))
	}
}
