// Package jsonfile implements an attest.Sink backed by an NDJSON file, one
// attestation per line, appended to and scanned back for Query.
package jsonfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/google/uuid"
)

type Store struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (creating if necessary) the NDJSON file at filePath.
func New(filePath string) (*Store, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: %w", err)
	}
	return &Store{file: f}, nil
}

var _ attest.Sink = (*Store)(nil)

func (s *Store) GenerateAndCreate(ctx context.Context, cmd attest.Command) (attest.Attestation, error) {
	ts := cmd.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	a := attest.Attestation{
		ID:         uuid.New().String(),
		Subjects:   cmd.Subjects,
		Predicates: cmd.Predicates,
		Contexts:   cmd.Contexts,
		Actors:     cmd.Actors,
		Timestamp:  ts,
		Attributes: cmd.Attributes,
		CreatedAt:  time.Now().Unix(),
	}

	data, err := json.Marshal(a)
	if err != nil {
		return attest.Attestation{}, fmt.Errorf("jsonfile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return attest.Attestation{}, fmt.Errorf("jsonfile: %w", err)
	}
	return a, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	all, err := s.readAll()
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Query(ctx context.Context, filter attest.Filter) ([]attest.Attestation, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var out []attest.Attestation
	for _, a := range all {
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

func (s *Store) readAll() ([]attest.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("jsonfile: %w", err)
	}
	defer func() {
		_, _ = s.file.Seek(0, io.SeekEnd)
	}()

	scanner := bufio.NewScanner(s.file)
	var all []attest.Attestation
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a attest.Attestation
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("jsonfile: %w", err)
		}
		all = append(all, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonfile: %w", err)
	}
	return all, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

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
