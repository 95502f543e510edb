// Package store persists consensus results in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/artha/internal/consensus"
)

// DefaultListLimit caps ListResults when the caller passes no limit.
const DefaultListLimit = 20

type Store struct {
	DB *sql.DB
}

// New opens and pings a Postgres connection. The schema is managed by the
// migrations directory, not here.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// ResultSummary is a row of a user's query history.
type ResultSummary struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Query             string        `json:"query"`
	OverallConfidence float64       `json:"overall_confidence"`
	WeightingMethod   string        `json:"weighting_method"`
	Primary           []string      `json:"primary"`
	DataGaps          []string      `json:"data_gaps"`
	ConflictCount     int           `json:"conflict_count"`
	Duration          time.Duration `json:"duration"`
	CreatedAt         time.Time     `json:"created_at"`
}

// SaveResult stores r. Saving the same result twice is a no-op.
func (s *Store) SaveResult(ctx context.Context, r *consensus.Result) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("result without id")
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO consensus_results (id, user_id, query, overall_confidence, weighting_method, primary_producers, data_gaps, conflict_count, duration_ms, result, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING`,
		r.ID, r.UserID, r.Query, r.OverallConfidence, string(r.WeightingMethod),
		pq.Array(r.Primary), pq.Array(r.DataGaps), len(r.Conflicts), r.Duration.Milliseconds(), doc, r.Timestamp)
	return err
}

// ListResults returns a user's most recent results, newest first.
func (s *Store) ListResults(ctx context.Context, userID string, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, query, overall_confidence, weighting_method, primary_producers, data_gaps, conflict_count, duration_ms, created_at
FROM consensus_results
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ResultSummary{}
	for rows.Next() {
		var (
			rs         ResultSummary
			durationMS int64
		)
		if err := rows.Scan(&rs.ID, &rs.UserID, &rs.Query, &rs.OverallConfidence, &rs.WeightingMethod,
			pq.Array(&rs.Primary), pq.Array(&rs.DataGaps), &rs.ConflictCount, &durationMS, &rs.CreatedAt); err != nil {
			return nil, err
		}
		rs.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rs)
	}
	return out, rows.Err()
}

// GetResult loads a full result owned by userID.
func (s *Store) GetResult(ctx context.Context, userID, id string) (*consensus.Result, bool, error) {
	var doc []byte
	err := s.DB.QueryRowContext(ctx, `SELECT result FROM consensus_results WHERE id=$1 AND user_id=$2`, id, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r consensus.Result
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, false, fmt.Errorf("decode result %s: %w", id, err)
	}
	return &r, true, nil
}
