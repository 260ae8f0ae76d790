// Package store keeps a history of runs in Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-net/mcast-acceptor/types"
)

type Run struct {
	ID          string
	Topology    string
	Status      string
	Passed      bool
	Fatal       bool
	Cancelled   bool
	FatalReason string
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
}

type Comparison struct {
	RunID          string
	Client         string
	Sent           int
	Received       int
	Lost           int
	OutOfOrder     int
	Duplicates     int
	SizeMismatches int
	LossRate       float64
	MeanLatencyMs  float64
	P999LatencyMs  float64
	Passed         bool
	Details        []byte // JSON encoded failure reasons and discrepancies
}

type ErrorRow struct {
	RunID   string
	Node    string
	Phase   string
	Kind    string
	Message string
}

// Store persists run results.
type Store interface {
	SaveRun(ctx context.Context, result *types.RunResult) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	topology     TEXT NOT NULL,
	status       TEXT NOT NULL,
	passed       BOOLEAN NOT NULL,
	fatal        BOOLEAN NOT NULL,
	cancelled    BOOLEAN NOT NULL,
	fatal_reason TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS comparisons (
	run_id          TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	client          TEXT NOT NULL,
	sent            INTEGER NOT NULL,
	received        INTEGER NOT NULL,
	lost            INTEGER NOT NULL,
	out_of_order    INTEGER NOT NULL,
	duplicates      INTEGER NOT NULL,
	size_mismatches INTEGER NOT NULL,
	loss_rate       DOUBLE PRECISION NOT NULL,
	mean_latency_ms DOUBLE PRECISION NOT NULL,
	p999_latency_ms DOUBLE PRECISION NOT NULL,
	passed          BOOLEAN NOT NULL,
	details         JSONB NOT NULL,
	PRIMARY KEY (run_id, client)
);
CREATE TABLE IF NOT EXISTS run_errors (
	id      BIGSERIAL PRIMARY KEY,
	run_id  TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	node    TEXT NOT NULL,
	phase   TEXT NOT NULL,
	kind    TEXT NOT NULL,
	message TEXT NOT NULL
);
`

type PGXStore struct {
	conn *pgxpool.Pool
}

// New connects to Postgres and creates the tables if needed.
func New(ctx context.Context, uri string) (*PGXStore, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	s := &PGXStore{conn: conn}
	if err := s.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (p *PGXStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run with its comparisons and errors in one transaction.
// Saving the same run again replaces it.
func (p *PGXStore) SaveRun(ctx context.Context, result *types.RunResult) (err error) {
	run, comparisons, errs, err := Rows(result)
	if err != nil {
		return err
	}

	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM runs WHERE id = $1", run.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}
	if _, err = tx.Exec(ctx, `
INSERT INTO runs (id, topology, status, passed, fatal, cancelled, fatal_reason, started_at, finished_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		run.ID,
		run.Topology,
		run.Status,
		run.Passed,
		run.Fatal,
		run.Cancelled,
		run.FatalReason,
		run.StartedAt,
		run.FinishedAt,
		run.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range comparisons {
		batch.Queue(`
INSERT INTO comparisons (run_id, client, sent, received, lost, out_of_order, duplicates, size_mismatches,
	loss_rate, mean_latency_ms, p999_latency_ms, passed, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`,
			c.RunID, c.Client, c.Sent, c.Received, c.Lost, c.OutOfOrder, c.Duplicates, c.SizeMismatches,
			c.LossRate, c.MeanLatencyMs, c.P999LatencyMs, c.Passed, string(c.Details))
	}
	for _, e := range errs {
		batch.Queue(`INSERT INTO run_errors (run_id, node, phase, kind, message) VALUES ($1, $2, $3, $4, $5)`,
			e.RunID, e.Node, e.Phase, e.Kind, e.Message)
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert run details: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (p *PGXStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.conn.Query(ctx, `
SELECT id, topology, status, passed, fatal, cancelled, fatal_reason, started_at, finished_at, duration_ms
FROM runs ORDER BY started_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.Topology, &r.Status, &r.Passed, &r.Fatal, &r.Cancelled,
			&r.FatalReason, &r.StartedAt, &r.FinishedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

func (p *PGXStore) Close() error {
	p.conn.Close()
	return nil
}

// Rows flattens a run result into table rows. Comparisons are ordered by
// client.
func Rows(result *types.RunResult) (Run, []Comparison, []ErrorRow, error) {
	run := Run{
		ID:          result.RunID,
		Topology:    result.Topology,
		Status:      string(result.Status()),
		Passed:      result.Passed,
		Fatal:       result.Fatal,
		Cancelled:   result.Cancelled,
		FatalReason: result.FatalReason,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Duration:    result.Duration,
	}

	clients := make([]string, 0, len(result.Comparisons))
	for client := range result.Comparisons {
		clients = append(clients, client)
	}
	sort.Strings(clients)

	comparisons := make([]Comparison, 0, len(clients))
	for _, client := range clients {
		cr := result.Comparisons[client]
		details, err := json.Marshal(struct {
			FailureReasons []string            `json:"failure_reasons"`
			Discrepancies  []types.Discrepancy `json:"discrepancies"`
			Truncated      int                 `json:"truncated"`
		}{cr.FailureReasons, cr.Discrepancies, cr.TruncatedDiscrepancies})
		if err != nil {
			return Run{}, nil, nil, fmt.Errorf("failed to encode comparison details for %s: %w", client, err)
		}
		comparisons = append(comparisons, Comparison{
			RunID:          result.RunID,
			Client:         client,
			Sent:           cr.Sent,
			Received:       cr.Received,
			Lost:           cr.Lost,
			OutOfOrder:     cr.OutOfOrder,
			Duplicates:     cr.Duplicates,
			SizeMismatches: cr.SizeMismatches,
			LossRate:       cr.LossRate,
			MeanLatencyMs:  cr.Latency.MeanMs,
			P999LatencyMs:  cr.Latency.P999Ms,
			Passed:         cr.Passed,
			Details:        details,
		})
	}

	errs := make([]ErrorRow, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, ErrorRow{
			RunID:   result.RunID,
			Node:    e.Node,
			Phase:   string(e.Phase),
			Kind:    string(e.Kind),
			Message: e.Message,
		})
	}
	return run, comparisons, errs, nil
}
