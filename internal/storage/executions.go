package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrAlreadyFinal = errors.New("storage: execution already finalized")

// BeginExecution inserts a RUNNING row and commits it immediately so external
// observers can see a run in progress.
func (s *Store) BeginExecution(ctx context.Context, scheduleID int64) (*JobExecution, error) {
	exec := &JobExecution{
		ID:         uuid.New(),
		ScheduleID: scheduleID,
		StartedAt:  time.Now().UTC(),
		Status:     ExecRunning,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (id, schedule_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		exec.ID.String(), exec.ScheduleID, exec.StartedAt, exec.Status)
	if err != nil {
		return nil, fmt.Errorf("begin execution for schedule %d: %w", scheduleID, err)
	}
	return exec, nil
}

// FinalizeExecution moves a RUNNING row to SUCCESS or FAILED exactly once.
// The WHERE clause guards the state machine: a row that already left RUNNING
// is never touched again.
func (s *Store) FinalizeExecution(ctx context.Context, id uuid.UUID, status ExecStatus, tracksAdded, tracksTotal int, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize execution %s: status %q is not terminal", id, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET
			completed_at = ?, status = ?, tracks_added = ?, tracks_total = ?, error = ?
		WHERE id = ? AND status = ?`,
		time.Now().UTC(), status, tracksAdded, tracksTotal, errText,
		id.String(), ExecRunning)
	if err != nil {
		return fmt.Errorf("finalize execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize execution %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}
	return nil
}

// ExecutionsForSchedule returns up to limit runs, newest first.
func (s *Store) ExecutionsForSchedule(ctx context.Context, scheduleID int64, limit int) ([]JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []JobExecution
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, schedule_id, started_at, completed_at, status, tracks_added, tracks_total, error
		FROM job_executions
		WHERE schedule_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("load executions for schedule %d: %w", scheduleID, err)
	}
	return out, nil
}

// LatestExecution returns the most recent run, or ErrNotFound.
func (s *Store) LatestExecution(ctx context.Context, scheduleID int64) (*JobExecution, error) {
	execs, err := s.ExecutionsForSchedule(ctx, scheduleID, 1)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, fmt.Errorf("%w: executions for schedule %d", ErrNotFound, scheduleID)
	}
	return &execs[0], nil
}

// HasRunningExecution reports whether a RUNNING row exists for the schedule.
// Used as the best-effort guard for manual runs.
func (s *Store) HasRunningExecution(ctx context.Context, scheduleID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM job_executions WHERE schedule_id = ? AND status = ?`,
		scheduleID, ExecRunning)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check running execution: %w", err)
	}
	return n > 0, nil
}
