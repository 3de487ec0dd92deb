// Package history persists candidate evaluations across tuning runs so that
// metric trends survive the process.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"usitune/internal/metrics"
	"usitune/internal/spsa"

	_ "modernc.org/sqlite"
)

// Store records evaluations in SQLite. One Store instance belongs to one
// tuning run, identified by a fresh run ID.
type Store struct {
	db    *sql.DB
	runID string
}

// Open initializes the database at the given path and starts a new run.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{db: db, runID: uuid.NewString()}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		kind TEXT NOT NULL,
		spike_rate REAL,
		avg_cp REAL,
		avg_depth REAL,
		theta_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id, iteration);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// RunID returns the identifier of the current run.
func (s *Store) RunID() string { return s.runID }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordEvaluation stores one candidate measurement.
func (s *Store) RecordEvaluation(ctx context.Context, candidate string, iteration int, kind string, report metrics.Report, theta spsa.ParamVector) error {
	thetaJSON, err := json.Marshal(theta)
	if err != nil {
		return fmt.Errorf("failed to marshal theta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, name, iteration, kind, spike_rate, avg_cp, avg_depth, theta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, candidate, iteration, kind,
		nullFloat(report.SpikeRatePercent), nullFloat(report.AvgCP), nullFloat(report.AvgDepth),
		string(thetaJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// TrendPoint is one recorded measurement in iteration order.
type TrendPoint struct {
	Name      string
	Iteration int
	Kind      string
	SpikeRate *float64
	Theta     spsa.ParamVector
}

// Trend returns the run's measurements ordered by iteration, then insertion.
func (s *Store) Trend(ctx context.Context, runID string) ([]TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, iteration, kind, spike_rate, theta_json
		FROM evaluations WHERE run_id = ? ORDER BY iteration, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var (
			p         TrendPoint
			rate      sql.NullFloat64
			thetaJSON string
		)
		if err := rows.Scan(&p.Name, &p.Iteration, &p.Kind, &rate, &thetaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		if rate.Valid {
			v := rate.Float64
			p.SpikeRate = &v
		}
		if err := json.Unmarshal([]byte(thetaJSON), &p.Theta); err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
