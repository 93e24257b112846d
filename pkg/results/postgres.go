package results

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scenario_results (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	scenario TEXT NOT NULL,
	src_chain_id BIGINT NOT NULL,
	dst_chain_id BIGINT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT scenario_results_run_scenario UNIQUE (run_id, scenario)
);

CREATE TABLE IF NOT EXISTS observed_retries (
	chain_id BIGINT NOT NULL,
	src_chain_id BIGINT NOT NULL,
	sequence BIGINT NOT NULL,
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL,
	run_id TEXT NOT NULL,
	scenario TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, src_chain_id, sequence, run_id)
);
`

// execer is the part of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ execer = (*pgxpool.Pool)(nil)

// PostgresSink stores results and observed retry payloads.
type PostgresSink struct {
	db    execer
	close func()
}

// NewPostgresSink opens a pool on dsn.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres sink", ErrInvalidConfig)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("results/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results/postgres: ping: %w", err)
	}
	return &PostgresSink{db: pool, close: pool.Close}, nil
}

func newPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{db: db, close: func() {}}
}

func (s *PostgresSink) Name() string { return DriverPostgres }

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("results/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, r Result) error {
	var details []byte
	if len(r.Details) > 0 {
		var err error
		details, err = json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("results/postgres: encode details: %w", err)
		}
	}
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO scenario_results (
			run_id, scenario, src_chain_id, dst_chain_id, outcome, error, started_at, finished_at, details
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (run_id, scenario) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at,
			details = EXCLUDED.details
	`, r.RunID, r.Scenario, int64(r.SrcChainID), int64(r.DstChainID), string(r.Outcome), errText,
		r.StartedAt.UTC(), r.FinishedAt.UTC(), details)
	if err != nil {
		return fmt.Errorf("results/postgres: insert result: %w", err)
	}

	if r.Retry == nil {
		return nil
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO observed_retries (chain_id, src_chain_id, sequence, kind, payload, run_id, scenario)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT DO NOTHING
	`, int64(r.Retry.ChainID), int64(r.Retry.SrcChainID), int64(r.Retry.Sequence), r.Retry.Kind,
		[]byte(r.Retry.Payload), r.RunID, r.Scenario)
	if err != nil {
		return fmt.Errorf("results/postgres: insert retry: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.close()
	return nil
}
