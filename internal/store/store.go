package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Outcome statuses stored in the status column.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is one row of the retrieval audit trail.
type Record struct {
	ID           string                 `json:"id"`
	CaseNumber   string                 `json:"case_number"`
	Status       string                 `json:"status"`
	Reached      string                 `json:"reached"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	FilePath     string                 `json:"file_path,omitempty"`
	Artifacts    []diagnostics.Artifact `json:"artifacts,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
}

// Store provides the PostgreSQL audit trail of retrieval outcomes.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const sqlCreateRetrievals = `
        CREATE TABLE IF NOT EXISTS retrievals (
            id            TEXT PRIMARY KEY,
            case_number   TEXT NOT NULL,
            status        TEXT NOT NULL,
            reached       TEXT NOT NULL,
            error_kind    TEXT NOT NULL DEFAULT '',
            error_message TEXT NOT NULL DEFAULT '',
            file_path     TEXT NOT NULL DEFAULT '',
            artifacts     JSONB NOT NULL DEFAULT '[]',
            started_at    TIMESTAMPTZ NOT NULL,
            finished_at   TIMESTAMPTZ NOT NULL
        );
    `

const sqlInsertRetrieval = `
        INSERT INTO retrievals (id, case_number, status, reached, error_kind, error_message, file_path, artifacts, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO NOTHING;
    `

const sqlRecentRetrievals = `
        SELECT id, case_number, status, reached, error_kind, error_message, file_path, artifacts, started_at, finished_at
        FROM retrievals
        ORDER BY started_at DESC
        LIMIT $1;
    `

// Migrate creates the retrievals table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateRetrievals); err != nil {
		return fmt.Errorf("failed to create retrievals table: %w", err)
	}
	return nil
}

// FromResult flattens a retrieval result into an audit record.
func FromResult(res retrieval.Result) Record {
	rec := Record{
		ID:         res.ID,
		CaseNumber: res.CaseNumber,
		Status:     StatusSucceeded,
		Reached:    string(res.Reached),
		FilePath:   res.FilePath,
		StartedAt:  res.StartedAt.UTC(),
		FinishedAt: res.FinishedAt.UTC(),
	}
	if f := res.Failure; f != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = string(f.Kind)
		rec.ErrorMessage = f.Error()
		rec.Artifacts = f.Artifacts
	}
	return rec
}

// Save inserts the outcome of one retrieval. Saving the same ID twice is a no-op.
func (s *Store) Save(ctx context.Context, res retrieval.Result) error {
	rec := FromResult(res)

	artifacts := []byte("[]")
	if len(rec.Artifacts) > 0 {
		var err error
		if artifacts, err = json.Marshal(rec.Artifacts); err != nil {
			return fmt.Errorf("failed to encode artifacts: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, sqlInsertRetrieval,
		rec.ID, rec.CaseNumber, rec.Status, rec.Reached,
		rec.ErrorKind, rec.ErrorMessage, rec.FilePath,
		string(artifacts), rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert retrieval %s: %w", rec.ID, err)
	}
	s.log.Debug("Recorded retrieval.", zap.String("retrieval_id", rec.ID), zap.String("status", rec.Status))
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlRecentRetrievals, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query retrievals: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var artifacts []byte
		err := rows.Scan(
			&rec.ID, &rec.CaseNumber, &rec.Status, &rec.Reached,
			&rec.ErrorKind, &rec.ErrorMessage, &rec.FilePath,
			&artifacts, &rec.StartedAt, &rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retrieval row: %w", err)
		}
		if len(artifacts) > 0 {
			if err := json.Unmarshal(artifacts, &rec.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to decode artifacts for %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
