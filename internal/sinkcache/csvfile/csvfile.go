// Package csvfile implements an attest.Sink backed by a CSV file, with one
// row per attestation and JSON-encoded columns for the repeated fields.
package csvfile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/google/uuid"
)

var headers = []string{
	"id",
	"subjects_json",
	"predicates_json",
	"contexts_json",
	"actors_json",
	"timestamp",
	"attributes_json",
	"created_at",
}

type Store struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (creating if necessary) the CSV file at filePath, writing the
// header row when the file is new.
func New(filePath string) (*Store, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvfile: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csvfile: %w", err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvfile: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvfile: %w", err)
		}
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

	subjectsJSON, _ := json.Marshal(a.Subjects)
	predicatesJSON, _ := json.Marshal(a.Predicates)
	contextsJSON, _ := json.Marshal(a.Contexts)
	actorsJSON, _ := json.Marshal(a.Actors)
	attributesJSON, err := json.Marshal(a.Attributes)
	if err != nil {
		return attest.Attestation{}, fmt.Errorf("csvfile: %w", err)
	}

	record := []string{
		a.ID,
		string(subjectsJSON),
		string(predicatesJSON),
		string(contextsJSON),
		string(actorsJSON),
		strconv.FormatInt(a.Timestamp, 10),
		string(attributesJSON),
		strconv.FormatInt(a.CreatedAt, 10),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return attest.Attestation{}, fmt.Errorf("csvfile: %w", err)
	}
	w := csv.NewWriter(s.file)
	if err := w.Write(record); err != nil {
		return attest.Attestation{}, fmt.Errorf("csvfile: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return attest.Attestation{}, fmt.Errorf("csvfile: %w", err)
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
		return nil, fmt.Errorf("csvfile: %w", err)
	}
	defer func() {
		_, _ = s.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(s.file)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("csvfile: %w", err)
	}

	var all []attest.Attestation
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvfile: %w", err)
		}
		if len(record) != len(headers) {
			continue
		}

		var a attest.Attestation
		a.ID = record[0]
		json.Unmarshal([]byte(record[1]), &a.Subjects)
		json.Unmarshal([]byte(record[2]), &a.Predicates)
		json.Unmarshal([]byte(record[3]), &a.Contexts)
		json.Unmarshal([]byte(record[4]), &a.Actors)
		a.Timestamp, _ = strconv.ParseInt(record[5], 10, 64)
		json.Unmarshal([]byte(record[6]), &a.Attributes)
		a.CreatedAt, _ = strconv.ParseInt(record[7], 10, 64)

		all = append(all, a)
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
