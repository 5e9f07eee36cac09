package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateSchedule(ctx context.Context, sc *Schedule) error {
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	if sc.LastStatus == "" {
		sc.LastStatus = RunNone
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO schedules (
			user_id, job_type, playlist_id, playlist_name, source_ids,
			algorithm, params, trigger_kind, trigger_value, enabled,
			last_status, last_error, created_at, updated_at
		) VALUES (
			:user_id, :job_type, :playlist_id, :playlist_name, :source_ids,
			:algorithm, :params, :trigger_kind, :trigger_value, :enabled,
			:last_status, :last_error, :created_at, :updated_at
		)`, sc)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert schedule id: %w", err)
	}
	sc.ID = id
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc *Schedule) error {
	sc.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE schedules SET
			job_type = :job_type,
			playlist_id = :playlist_id,
			playlist_name = :playlist_name,
			source_ids = :source_ids,
			algorithm = :algorithm,
			params = :params,
			trigger_kind = :trigger_kind,
			trigger_value = :trigger_value,
			enabled = :enabled,
			updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`, sc)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", sc.ID, err)
	}
	return requireRow(res, sc.ID)
}

// DeleteSchedule removes the schedule; its execution history cascades.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("toggle schedule %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) ScheduleByID(ctx context.Context, id int64) (*Schedule, error) {
	var sc Schedule
	err := s.db.GetContext(ctx, &sc, `SELECT * FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule %d: %w", id, err)
	}
	return &sc, nil
}

// EnabledSchedules returns every schedule the registrar must own on startup.
func (s *Store) EnabledSchedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM schedules WHERE enabled = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load enabled schedules: %w", err)
	}
	return out, nil
}

func (s *Store) SchedulesForUser(ctx context.Context, userID string) ([]Schedule, error) {
	var out []Schedule
	if err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM schedules WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("load schedules for user %s: %w", userID, err)
	}
	return out, nil
}

func (s *Store) CountSchedulesForUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM schedules WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("count schedules for user %s: %w", userID, err)
	}
	return n, nil
}

// RecordRunOutcome updates the schedule's dashboard fields after a run.
// A successful run clears last_error.
func (s *Store) RecordRunOutcome(ctx context.Context, id int64, at time.Time, status RunStatus, lastError string) error {
	if status == RunSuccess {
		lastError = ""
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			last_run_at = ?, last_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		at.UTC(), status, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record outcome for schedule %d: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	return nil
}
