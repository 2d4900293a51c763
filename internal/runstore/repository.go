// Package runstore persists finished simulation runs to Postgres for
// offline analysis: run metadata, the full event log and per-agent results.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              UUID PRIMARY KEY,
	scenario_name   TEXT NOT NULL,
	scenario_hash   TEXT NOT NULL,
	seed            BIGINT NOT NULL,
	horizon_ticks   BIGINT NOT NULL,
	completed_ticks BIGINT NOT NULL,
	settled_count   BIGINT NOT NULL,
	settled_value   BIGINT NOT NULL,
	total_cost      BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	run_id         UUID NOT NULL REFERENCES runs(id),
	seq            BIGINT NOT NULL,
	tick           BIGINT NOT NULL,
	event_type     TEXT NOT NULL,
	transaction_id UUID,
	agent_id       TEXT,
	amount         BIGINT NOT NULL,
	details        JSONB,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_agent_results (
	run_id                 UUID NOT NULL REFERENCES runs(id),
	agent_id               TEXT NOT NULL,
	final_balance          BIGINT NOT NULL,
	overdraft_cost         BIGINT NOT NULL,
	delay_cost             BIGINT NOT NULL,
	collateral_cost        BIGINT NOT NULL,
	pool_cost              BIGINT NOT NULL,
	deadline_miss_cost     BIGINT NOT NULL,
	split_friction_cost    BIGINT NOT NULL,
	end_of_period_cost     BIGINT NOT NULL,
	PRIMARY KEY (run_id, agent_id)
);
`

// RunRecord is one persisted run's metadata row.
type RunRecord struct {
	ID             uuid.UUID `db:"id"`
	ScenarioName   string    `db:"scenario_name"`
	ScenarioHash   string    `db:"scenario_hash"`
	Seed           int64     `db:"seed"`
	HorizonTicks   int64     `db:"horizon_ticks"`
	CompletedTicks int64     `db:"completed_ticks"`
	SettledCount   int64     `db:"settled_count"`
	SettledValue   int64     `db:"settled_value"`
	TotalCost      int64     `db:"total_cost"`
	CreatedAt      time.Time `db:"created_at"`
}

type Repository struct {
	db *sqlx.DB
}

// NewRepository connects and ensures the schema exists.
func NewRepository(databaseURL string, maxOpen, maxIdle int, maxLifetime time.Duration) (*Repository, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "runstore connect failed")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "runstore schema setup failed")
	}
	return &Repository{db: db}, nil
}

// SaveRun writes the run row, its event log and the per-agent results in one
// transaction.
func (r *Repository) SaveRun(ctx context.Context, rec RunRecord, events []domain.Event, summary domain.RunSummary) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "runstore begin failed")
	}
	defer func() { _ = tx.Rollback() }()

	const runInsert = `
		INSERT INTO runs (
			id, scenario_name, scenario_hash, seed, horizon_ticks,
			completed_ticks, settled_count, settled_value, total_cost, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.ExecContext(ctx, runInsert,
		rec.ID, rec.ScenarioName, rec.ScenarioHash, rec.Seed, rec.HorizonTicks,
		rec.CompletedTicks, rec.SettledCount, rec.SettledValue, rec.TotalCost, rec.CreatedAt,
	); err != nil {
		return errors.Wrap(err, "failed to insert run")
	}

	const eventInsert = `
		INSERT INTO run_events (run_id, seq, tick, event_type, transaction_id, agent_id, amount, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, ev := range events {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return errors.Wrap(err, "failed to encode event details")
		}
		var txID interface{}
		if ev.TransactionID != nil {
			txID = *ev.TransactionID
		}
		if _, err := tx.ExecContext(ctx, eventInsert,
			rec.ID, int64(i), ev.Tick, string(ev.Type), txID, ev.AgentID, ev.Amount, details,
		); err != nil {
			return errors.Wrap(err, "failed to insert run event")
		}
	}

	const resultInsert = `
		INSERT INTO run_agent_results (
			run_id, agent_id, final_balance, overdraft_cost, delay_cost,
			collateral_cost, pool_cost, deadline_miss_cost, split_friction_cost, end_of_period_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for agentID, balance := range summary.AgentBalances {
		costsRec := summary.AgentCosts[agentID]
		if _, err := tx.ExecContext(ctx, resultInsert,
			rec.ID, agentID, balance, costsRec.Overdraft, costsRec.Delay,
			costsRec.CollateralOpportunity, costsRec.PoolOpportunity,
			costsRec.DeadlineMiss, costsRec.SplitFriction, costsRec.EndOfPeriod,
		); err != nil {
			return errors.Wrap(err, "failed to insert agent result")
		}
	}

	return errors.Wrap(tx.Commit(), "runstore commit failed")
}

// GetRun loads one run's metadata.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	var rec RunRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrRunNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	return &rec, nil
}

// ListRuns returns recent runs for a scenario hash, newest first.
func (r *Repository) ListRuns(ctx context.Context, scenarioHash string, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	err := r.db.SelectContext(ctx, &recs, `
		SELECT * FROM runs
		WHERE scenario_hash = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, scenarioHash, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return recs, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
