package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/segment"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// PatchRecord is a stored patch. Inlier indices are not kept.
type PatchRecord struct {
	RunID    string
	PatchID  int
	Points   int
	Normal   r3.Vec
	D        float64
	RMS      float64
	Centroid r3.Vec
	Width    float64
	Height   float64
}

// Area returns the patch's in-plane extent area.
func (p PatchRecord) Area() float64 { return p.Width * p.Height }

// SaveRun inserts or replaces a run summary and its stage metrics.
func (s *Store) SaveRun(ctx context.Context, sum pipeline.RunSummary) error {
	if sum.RunID == "" {
		return errors.New("run summary has no run ID")
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := deleteRun(ctx, tx, sum.RunID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (
				run_id, status, input, output, points_in, points_out,
				patches, residual, tiles, started_at, elapsed_ns, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, string(sum.Status), sum.Input, sum.Output, sum.PointsIn, sum.PointsOut,
			sum.Patches, sum.Residual, sum.Tiles, sum.Started.UnixNano(), int64(sum.Elapsed), sum.Error,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i, m := range sum.Stages {
			var rejected interface{}
			if len(m.Rejected) > 0 {
				b, err := json.Marshal(m.Rejected)
				if err != nil {
					return err
				}
				rejected = string(b)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO stage_metrics (
					run_id, seq, stage, points_in, points_out, patches, skipped, elapsed_ns, rejected
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sum.RunID, i, string(m.Stage), m.PointsIn, m.PointsOut, m.Patches, m.Skipped, int64(m.Elapsed), rejected,
			)
			if err != nil {
				return fmt.Errorf("insert stage %s: %w", m.Stage, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		diagf("saved run %s (%s, %d stages)", sum.RunID, sum.Status, len(sum.Stages))
		return nil
	})
}

// SavePatches replaces the patches stored for a run. The run must exist.
func (s *Store) SavePatches(ctx context.Context, runID string, patches []segment.Patch) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM patches WHERE run_id = ?`, runID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO patches (
				run_id, patch_id, points, normal_x, normal_y, normal_z, plane_d, rms,
				centroid_x, centroid_y, centroid_z, width, height
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, p := range patches {
			n, c := p.Plane.Normal, p.Centroid
			if _, err := stmt.ExecContext(ctx,
				runID, i, p.Len(), n.X, n.Y, n.Z, p.Plane.D, p.RMS,
				c.X, c.Y, c.Z, p.Extent.Width(), p.Extent.Height(),
			); err != nil {
				return fmt.Errorf("insert patch %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `run_id, status, input, output, points_in, points_out,
	patches, residual, tiles, started_at, elapsed_ns, error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (pipeline.RunSummary, error) {
	var (
		s         pipeline.RunSummary
		status    string
		startedNS int64
		elapsedNS int64
	)
	err := row.Scan(&s.RunID, &status, &s.Input, &s.Output, &s.PointsIn, &s.PointsOut,
		&s.Patches, &s.Residual, &s.Tiles, &startedNS, &elapsedNS, &s.Error)
	if err != nil {
		return s, err
	}
	s.Status = pipeline.Status(status)
	s.Started = time.Unix(0, startedNS)
	s.Elapsed = time.Duration(elapsedNS)
	return s, nil
}

// ListRuns returns the most recent runs, newest first, without stage
// metrics. A limit of 0 or less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.RunSummary, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	var args []interface{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []pipeline.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its stage metrics.
func (s *Store) GetRun(ctx context.Context, runID string) (pipeline.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return sum, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, points_in, points_out, patches, skipped, elapsed_ns, rejected
		FROM stage_metrics WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return sum, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m         pipeline.StageMetrics
			stage     string
			elapsedNS int64
			rejected  sql.NullString
		)
		if err := rows.Scan(&stage, &m.PointsIn, &m.PointsOut, &m.Patches, &m.Skipped, &elapsedNS, &rejected); err != nil {
			return sum, err
		}
		m.Stage = pipeline.Stage(stage)
		m.Elapsed = time.Duration(elapsedNS)
		if rejected.Valid {
			if err := json.Unmarshal([]byte(rejected.String), &m.Rejected); err != nil {
				return sum, fmt.Errorf("decode rejected counts: %w", err)
			}
		}
		sum.Stages = append(sum.Stages, m)
	}
	return sum, rows.Err()
}

// Patches returns the stored patches of a run in patch order.
func (s *Store) Patches(ctx context.Context, runID string) ([]PatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, patch_id, points, normal_x, normal_y, normal_z, plane_d, rms,
		       centroid_x, centroid_y, centroid_z, width, height
		FROM patches WHERE run_id = ? ORDER BY patch_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query patches: %w", err)
	}
	defer rows.Close()

	var out []PatchRecord
	for rows.Next() {
		var p PatchRecord
		if err := rows.Scan(&p.RunID, &p.PatchID, &p.Points,
			&p.Normal.X, &p.Normal.Y, &p.Normal.Z, &p.D, &p.RMS,
			&p.Centroid.X, &p.Centroid.Y, &p.Centroid.Z, &p.Width, &p.Height); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything recorded for it.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		n, err := deleteRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return tx.Commit()
	})
}

// deleteRun removes a run's rows from every table and reports how many
// run rows were deleted.
func deleteRun(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	for _, table := range []string{"patches", "stage_metrics"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Usage aggregates the run history.
type Usage struct {
	Runs            int
	ByStatus        map[pipeline.Status]int
	PointsProcessed int64
	PointsRejected  int64
	Patches         int64
	TotalElapsed    time.Duration
}

// Usage summarises every stored run.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	u := Usage{ByStatus: map[pipeline.Status]int{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(points_in), 0), COALESCE(SUM(patches), 0), COALESCE(SUM(elapsed_ns), 0)
		FROM runs GROUP BY status`)
	if err != nil {
		return u, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status       string
			n            int
			points, pats int64
			elapsedNS    int64
		)
		if err := rows.Scan(&status, &n, &points, &pats, &elapsedNS); err != nil {
			return u, err
		}
		u.ByStatus[pipeline.Status(status)] = n
		u.Runs += n
		u.PointsProcessed += points
		u.Patches += pats
		u.TotalElapsed += time.Duration(elapsedNS)
	}
	if err := rows.Err(); err != nil {
		return u, err
	}

	rej, err := s.db.QueryContext(ctx, `SELECT rejected FROM stage_metrics WHERE rejected IS NOT NULL`)
	if err != nil {
		return u, fmt.Errorf("query rejected: %w", err)
	}
	defer rej.Close()
	for rej.Next() {
		var raw string
		if err := rej.Scan(&raw); err != nil {
			return u, err
		}
		var counts map[string]int
		if err := json.Unmarshal([]byte(raw), &counts); err != nil {
			return u, fmt.Errorf("decode rejected counts: %w", err)
		}
		for _, n := range counts {
			u.PointsRejected += int64(n)
		}
	}
	return u, rej.Err()
}
