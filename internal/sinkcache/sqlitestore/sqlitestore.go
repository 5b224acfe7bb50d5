// Package sqlitestore implements an attest.Sink backed by SQLite via
// modernc.org/sqlite, the pure-Go driver that needs no cgo toolchain.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS attestations (
	id TEXT PRIMARY KEY,
	subjects TEXT NOT NULL,
	predicates TEXT NOT NULL,
	contexts TEXT NOT NULL,
	actors TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	attributes TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// New opens (creating if necessary) the SQLite database at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return &Store{db: db}, nil
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
		return attest.Attestation{}, fmt.Errorf("sqlitestore: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestations (id, subjects, predicates, contexts, actors, timestamp, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(subjectsJSON), string(predicatesJSON), string(contextsJSON), string(actorsJSON),
		a.Timestamp, string(attributesJSON), a.CreatedAt,
	)
	if err != nil {
		return attest.Attestation{}, fmt.Errorf("sqlitestore: %w", err)
	}
	return a, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attestations WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Query(ctx context.Context, filter attest.Filter) ([]attest.Attestation, error) {
	query := `SELECT id, subjects, predicates, contexts, actors, timestamp, attributes, created_at FROM attestations WHERE 1=1`
	var args []any

	query, args = appendOverlapClause(query, args, "subjects", filter.Subjects)
	query, args = appendOverlapClause(query, args, "predicates", filter.Predicates)
	query, args = appendOverlapClause(query, args, "contexts", filter.Contexts)
	query, args = appendOverlapClause(query, args, "actors", filter.Actors)

	if filter.TimeStart > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, filter.TimeStart)
	}
	if filter.TimeEnd > 0 {
		query += ` AND timestamp <= ?`
		args = append(args, filter.TimeEnd)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	defer rows.Close()

	var out []attest.Attestation
	for rows.Next() {
		var a attest.Attestation
		var subjectsJSON, predicatesJSON, contextsJSON, actorsJSON, attributesJSON string

		if err := rows.Scan(&a.ID, &subjectsJSON, &predicatesJSON, &contextsJSON, &actorsJSON,
			&a.Timestamp, &attributesJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: %w", err)
		}
		json.Unmarshal([]byte(subjectsJSON), &a.Subjects)
		json.Unmarshal([]byte(predicatesJSON), &a.Predicates)
		json.Unmarshal([]byte(contextsJSON), &a.Contexts)
		json.Unmarshal([]byte(actorsJSON), &a.Actors)
		json.Unmarshal([]byte(attributesJSON), &a.Attributes)

		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// appendOverlapClause ORs together a LIKE per candidate value against a
// JSON-array column, since the column holds a marshalled []string and we
// want "any value in want appears in the stored array" semantics.
func appendOverlapClause(query string, args []any, column string, want []string) (string, []any) {
	if len(want) == 0 {
		return query, args
	}
	var ors []string
	for _, v := range want {
		ors = append(ors, fmt.Sprintf("%s LIKE ?", column))
		args = append(args, `%"`+v+`"%`)
	}
	return query + " AND (" + strings.Join(ors, " OR ") + ")", args
}
