// Package persistence archives a rolling-horizon trajectory to Postgres,
// so realised dispatch decisions survive a restart and can be audited
// against the bill the tariff later produces. It mirrors the upsert
// pattern the host's prior MPC persistence layer used: delete-then-insert
// inside a single transaction, keyed by timestamp.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps a Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using connString (a libpq connection string or
// URL) and verifies connectivity with a ping.
func Open(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Step is one committed dispatch decision, the row shape SaveSteps writes.
type Step struct {
	Timestamp   time.Time
	PCharge     float64
	PDischarge  float64
	PGridImport float64
	PGridExport float64
	SOCKWh      float64
	Degradation float64
}

// SaveSteps upserts steps into dispatch_steps inside one transaction,
// first deleting any existing rows from the earliest timestamp in steps
// onward, mirroring the host's original "replace the tail" semantics for
// a resolved rolling-MPC window.
func (s *Store) SaveSteps(ctx context.Context, steps []Step) error {
	if len(steps) == 0 {
		return nil
	}
	minTimestamp := steps[0].Timestamp
	for _, st := range steps {
		if st.Timestamp.Before(minTimestamp) {
			minTimestamp = st.Timestamp
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_steps WHERE timestamp >= $1`, minTimestamp); err != nil {
		return fmt.Errorf("persistence: deleting existing steps: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dispatch_steps (
			timestamp, p_charge, p_discharge, p_grid_import, p_grid_export, soc_kwh, degradation
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (timestamp) DO UPDATE SET
			p_charge = EXCLUDED.p_charge,
			p_discharge = EXCLUDED.p_discharge,
			p_grid_import = EXCLUDED.p_grid_import,
			p_grid_export = EXCLUDED.p_grid_export,
			soc_kwh = EXCLUDED.soc_kwh,
			degradation = EXCLUDED.degradation
	`)
	if err != nil {
		return fmt.Errorf("persistence: preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range steps {
		if _, err := stmt.ExecContext(ctx, st.Timestamp, st.PCharge, st.PDischarge, st.PGridImport, st.PGridExport, st.SOCKWh, st.Degradation); err != nil {
			return fmt.Errorf("persistence: inserting step at %s: %w", st.Timestamp, err)
		}
	}

	return tx.Commit()
}

// MonthlyCost is one calendar month's archived exact cost accounting, the
// row shape SaveMonthlyCost writes after postproc.Recompute runs.
type MonthlyCost struct {
	MonthKey        string
	EnergyCost      float64
	PowerFee        float64
	DegradationCost float64
	Total           float64
}

// SaveMonthlyCost upserts one month's exact cost accounting, keyed by
// month_key.
func (s *Store) SaveMonthlyCost(ctx context.Context, mc MonthlyCost) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_costs (month_key, energy_cost, power_fee, degradation_cost, total)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (month_key) DO UPDATE SET
			energy_cost = EXCLUDED.energy_cost,
			power_fee = EXCLUDED.power_fee,
			degradation_cost = EXCLUDED.degradation_cost,
			total = EXCLUDED.total
	`, mc.MonthKey, mc.EnergyCost, mc.PowerFee, mc.DegradationCost, mc.Total)
	if err != nil {
		return fmt.Errorf("persistence: saving monthly cost for %s: %w", mc.MonthKey, err)
	}
	return nil
}

// LoadStepsSince loads archived steps with timestamp >= since, ordered by
// timestamp, for a host restarting mid-simulation to reconstruct how much
// of a committed window has already been applied.
func (s *Store) LoadStepsSince(ctx context.Context, since time.Time) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, p_charge, p_discharge, p_grid_import, p_grid_export, soc_kwh, degradation
		FROM dispatch_steps
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("persistence: querying steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.Timestamp, &st.PCharge, &st.PDischarge, &st.PGridImport, &st.PGridExport, &st.SOCKWh, &st.Degradation); err != nil {
			return nil, fmt.Errorf("persistence: scanning step: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterating steps: %w", err)
	}
	return out, nil
}
