package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
)

// Config controls the registrar.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int
	Timezone  string // IANA TZ, e.g. "America/New_York"

	// MisfireGrace bounds how stale a missed fire may be and still earn a
	// coalesced catch-up run at registration time. Zero disables catch-up.
	MisfireGrace time.Duration
}

// Runner executes one schedule by id. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, scheduleID int64)
}

// ScheduleSource supplies the enabled schedules registered at startup.
// *storage.Store satisfies it.
type ScheduleSource interface {
	EnabledSchedules(ctx context.Context) ([]storage.Schedule, error)
}

// runState is the per-identity overlap latch, shared between cron fires.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (r *runState) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *runState) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// task is one accepted fire waiting for a worker.
type task struct {
	scheduleID int64
	identity   string
	state      *runState
}

// entry is a registered schedule's runtime handle.
type entry struct {
	entryID cron.EntryID
	spec    string
	state   *runState
}

// EntryInfo describes one registered entry for dashboards and logs.
type EntryInfo struct {
	Identity string
	Spec     string
	Prev     time.Time
	Next     time.Time
}
