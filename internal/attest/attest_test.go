package attest

import (
	"context"
	"errors"
	"testing"
)

type stubSink struct {
	results    []Attestation
	err        error
	lastFilter Filter
}

func (s *stubSink) GenerateAndCreate(ctx context.Context, cmd Command) (Attestation, error) {
	return Attestation{}, nil
}
func (s *stubSink) Exists(ctx context.Context, id string) (bool, error) { return false, nil }
func (s *stubSink) Query(ctx context.Context, filter Filter) ([]Attestation, error) {
	s.lastFilter = filter
	return s.results, s.err
}
func (s *stubSink) Close() error { return nil }

func TestHasAttestation_TrueWhenSinkReturnsMatch(t *testing.T) {
	sink := &stubSink{results: []Attestation{{ID: "a1"}}}

	ok, err := HasAttestation(context.Background(), sink, "https://x.example/page", PredicateHasTitle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected HasAttestation to report true")
	}
	if len(sink.lastFilter.Subjects) != 1 || sink.lastFilter.Subjects[0] != "https://x.example/page" {
		t.Errorf("expected filter to carry the subject, got %+v", sink.lastFilter)
	}
	if len(sink.lastFilter.Predicates) != 1 || sink.lastFilter.Predicates[0] != PredicateHasTitle {
		t.Errorf("expected filter to carry the predicate, got %+v", sink.lastFilter)
	}
	if sink.lastFilter.Limit != 1 {
		t.Errorf("expected a Limit of 1, got %d", sink.lastFilter.Limit)
	}
}

func TestHasAttestation_FalseWhenSinkReturnsNothing(t *testing.T) {
	sink := &stubSink{results: nil}

	ok, err := HasAttestation(context.Background(), sink, "https://x.example/page", PredicateHasTitle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected HasAttestation to report false")
	}
}

func TestHasAttestation_PropagatesSinkError(t *testing.T) {
	sink := &stubSink{err: errors.New("sink unavailable")}

	_, err := HasAttestation(context.Background(), sink, "https://x.example/page", PredicateHasTitle)
	if err == nil {
		t.Fatal("expected HasAttestation to propagate the sink error")
	}
}
