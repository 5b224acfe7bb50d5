package csvfile

import (
	"path/filepath"
	"testing"

	"github.com/fenwicklabs/harvest/internal/attest"
)

func TestStore_WritesHeaderOnceAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attestations.csv")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := s1.GenerateAndCreate(t.Context(), attest.Command{
		Subjects:   []string{"http://host/p"},
		Predicates: []string{attest.PredicateHasTitle},
		Contexts:   []string{"T"},
		Attributes: map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("GenerateAndCreate: %v", err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	results, err := s2.Query(t.Context(), attest.Filter{Subjects: []string{"http://host/p"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(results))
	}
	if results[0].ID != a.ID || results[0].Attributes["k"] != "v" {
		t.Errorf("round trip mismatch: %+v", results[0])
	}
}

func TestStore_MalformedRowsAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attestations.csv")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.GenerateAndCreate(t.Context(), attest.Command{
		Subjects:   []string{"http://host/p"},
		Predicates: []string{attest.PredicateHasTitle},
	})
	if _, err := s.file.WriteString("only,two\n"); err != nil {
		t.Fatalf("write malformed row: %v", err)
	}

	all, err := s.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
}
