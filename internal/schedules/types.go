// Package schedules is the management surface for schedule records: create,
// update, delete, enable and disable, with strict validation at the door.
// Every mutation persists first, then syncs the registrar, so the database is
// always the source of truth for what should be running.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
)

const defaultMaxPerUser = 5

var (
	// ErrNotOwner means the requesting user does not own the schedule.
	ErrNotOwner = errors.New("schedules: not owned by requesting user")

	// ErrLimitExceeded means the user already holds the maximum number of
	// schedules.
	ErrLimitExceeded = errors.New("schedules: per-user schedule limit reached")
)

// ValidationError reports every rejected field at once.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid schedule: " + strings.Join(parts, "; ")
}

type Config struct {
	// MaxSchedulesPerUser caps active schedule rows per user. Zero means the
	// default of 5.
	MaxSchedulesPerUser int
}

// Store is the storage slice the service needs.
type Store interface {
	CreateSchedule(ctx context.Context, sc *storage.Schedule) error
	UpdateSchedule(ctx context.Context, sc *storage.Schedule) error
	DeleteSchedule(ctx context.Context, id int64) error
	SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error
	ScheduleByID(ctx context.Context, id int64) (*storage.Schedule, error)
	SchedulesForUser(ctx context.Context, userID string) ([]storage.Schedule, error)
	CountSchedulesForUser(ctx context.Context, userID string) (int, error)
	ExecutionsForSchedule(ctx context.Context, scheduleID int64, limit int) ([]storage.JobExecution, error)
}

// Registrar is the scheduler slice the service syncs after each mutation.
type Registrar interface {
	Add(sc *storage.Schedule)
	Remove(identity string)
}

// AlgorithmSet answers whether a shuffle algorithm name is registered.
// *shuffle.Registry satisfies it through Names.
type AlgorithmSet interface {
	Names() []string
}
