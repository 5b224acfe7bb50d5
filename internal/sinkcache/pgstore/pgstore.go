// Package pgstore implements an attest.Sink backed by PostgreSQL via
// jackc/pgx/v5's connection pool.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fenwicklabs/harvest/internal/attest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS attestations (
	id TEXT PRIMARY KEY,
	subjects JSONB NOT NULL,
	predicates JSONB NOT NULL,
	contexts JSONB NOT NULL,
	actors JSONB NOT NULL,
	timestamp BIGINT NOT NULL,
	attributes JSONB NOT NULL,
	created_at BIGINT NOT NULL
);
`

// New connects to the Postgres database at dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return &Store{pool: pool}, nil
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
		return attest.Attestation{}, fmt.Errorf("pgstore: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO attestations (id, subjects, predicates, contexts, actors, timestamp, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, subjectsJSON, predicatesJSON, contextsJSON, actorsJSON, a.Timestamp, attributesJSON, a.CreatedAt,
	)
	if err != nil {
		return attest.Attestation{}, fmt.Errorf("pgstore: %w", err)
	}
	return a, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM attestations WHERE id = $1`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("pgstore: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Query(ctx context.Context, filter attest.Filter) ([]attest.Attestation, error) {
	query := `SELECT id, subjects, predicates, contexts, actors, timestamp, attributes, created_at FROM attestations WHERE 1=1`
	var args []any
	paramCount := 1

	query, args, paramCount = appendOverlapClause(query, args, paramCount, "subjects", filter.Subjects)
	query, args, paramCount = appendOverlapClause(query, args, paramCount, "predicates", filter.Predicates)
	query, args, paramCount = appendOverlapClause(query, args, paramCount, "contexts", filter.Contexts)
	query, args, paramCount = appendOverlapClause(query, args, paramCount, "actors", filter.Actors)

	if filter.TimeStart > 0 {
		query += fmt.Sprintf(" AND timestamp >= $%d", paramCount)
		args = append(args, filter.TimeStart)
		paramCount++
	}
	if filter.TimeEnd > 0 {
		query += fmt.Sprintf(" AND timestamp <= $%d", paramCount)
		args = append(args, filter.TimeEnd)
		paramCount++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	defer rows.Close()

	var out []attest.Attestation
	for rows.Next() {
		var a attest.Attestation
		var subjectsJSON, predicatesJSON, contextsJSON, actorsJSON, attributesJSON []byte

		if err := rows.Scan(&a.ID, &subjectsJSON, &predicatesJSON, &contextsJSON, &actorsJSON,
			&a.Timestamp, &attributesJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: %w", err)
		}
		json.Unmarshal(subjectsJSON, &a.Subjects)
		json.Unmarshal(predicatesJSON, &a.Predicates)
		json.Unmarshal(contextsJSON, &a.Contexts)
		json.Unmarshal(actorsJSON, &a.Actors)
		json.Unmarshal(attributesJSON, &a.Attributes)

		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// appendOverlapClause ORs together a JSONB containment check per candidate
// value, matching "any value in want appears in the stored array" semantics.
func appendOverlapClause(query string, args []any, paramCount int, column string, want []string) (string, []any, int) {
	if len(want) == 0 {
		return query, args, paramCount
	}
	var ors []string
	for _, v := range want {
		ors = append(ors, fmt.Sprintf("%s @> $%d::jsonb", column, paramCount))
		encoded, _ := json.Marshal([]string{v})
		args = append(args, string(encoded))
		paramCount++
	}
	return query + " AND (" + strings.Join(ors, " OR ") + ")", args, paramCount
}
