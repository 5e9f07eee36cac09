// Package executor runs one schedule end to end: load state, open an audited
// execution, build an authenticated client, dispatch to the job handler, and
// record the terminal outcome. Scheduled fires never propagate errors; the
// audit trail is the report.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/internal/jobs"
	"github.com/chrisrogers37/shuffify-sub000/internal/shuffle"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/internal/tokens"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
	"github.com/google/uuid"
)

// maxErrorLen bounds the error text persisted per execution row.
const maxErrorLen = 1000

var (
	// ErrNotOwner means a manual run was requested by someone other than the
	// schedule's owner.
	ErrNotOwner = errors.New("executor: schedule not owned by requesting user")

	// ErrRunInProgress means a manual run was refused because an execution for
	// the same schedule is still running.
	ErrRunInProgress = errors.New("executor: a run for this schedule is already in progress")
)

// ExecError wraps whatever made a manual run fail so the caller can show the
// user the underlying message. errors.Is/As see through it.
type ExecError struct {
	ScheduleID int64
	Err        error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("run schedule %d: %v", e.ScheduleID, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// RunResult is the synchronous outcome of a manual run.
type RunResult struct {
	Status      storage.RunStatus
	LastRunAt   time.Time
	TracksAdded int
	TracksTotal int
}

// Store is the slice of the storage layer the executor needs.
// *storage.Store satisfies it; tests substitute a fake.
type Store interface {
	ScheduleByID(ctx context.Context, id int64) (*storage.Schedule, error)
	UserByID(ctx context.Context, id string) (*storage.User, error)
	BeginExecution(ctx context.Context, scheduleID int64) (*storage.JobExecution, error)
	FinalizeExecution(ctx context.Context, id uuid.UUID, status storage.ExecStatus, tracksAdded, tracksTotal int, errText string) error
	RecordRunOutcome(ctx context.Context, id int64, at time.Time, status storage.RunStatus, lastError string) error
	HasRunningExecution(ctx context.Context, scheduleID int64) (bool, error)
	SaveSnapshot(ctx context.Context, userID, playlistID string, trackURIs []string) error
}

// ClientProvider yields an authenticated playlist client for a user.
type ClientProvider interface {
	ClientFor(ctx context.Context, user *storage.User) (jobs.PlaylistAPI, error)
}

// TokenClients adapts the token manager to ClientProvider.
type TokenClients struct {
	Manager *tokens.Manager
}

func (t TokenClients) ClientFor(ctx context.Context, user *storage.User) (jobs.PlaylistAPI, error) {
	return t.Manager.ClientFor(ctx, user)
}

type Config struct {
	// Timeout bounds a single run. Zero means no per-run deadline beyond the
	// caller's context.
	Timeout time.Duration
}

type Executor struct {
	cfg     Config
	store   Store
	clients ClientProvider
	algos   *shuffle.Registry
	bus     eventbus.Bus
	log     logx.Logger
}

func New(cfg Config, store Store, clients ClientProvider, algos *shuffle.Registry, bus eventbus.Bus, log logx.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		store:   store,
		clients: clients,
		algos:   algos,
		bus:     bus,
		log:     log.With(logx.String("component", "executor")),
	}
}

// Execute is the scheduled entry point. It never returns an error: a fire
// against a missing or disabled schedule is logged and dropped without an
// execution row, and any run failure lands in the audit trail instead.
func (e *Executor) Execute(ctx context.Context, scheduleID int64) {
	sc, err := e.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Info("fire for deleted schedule ignored", logx.Int64("schedule_id", scheduleID))
		} else {
			e.log.Error("schedule load failed", logx.Int64("schedule_id", scheduleID), logx.Err(err))
		}
		return
	}
	if !sc.Enabled {
		e.log.Info("fire for disabled schedule ignored", logx.Int64("schedule_id", scheduleID))
		return
	}
	e.run(ctx, sc) //nolint:errcheck // outcome is persisted, not propagated
}

// ExecuteNow runs a schedule immediately on behalf of requestingUser. Unlike
// scheduled fires the outcome is returned to the caller: a refusal comes back
// as ErrNotOwner or ErrRunInProgress, and a failed run as *ExecError wrapping
// the cause. A disabled schedule may still be run manually.
func (e *Executor) ExecuteNow(ctx context.Context, scheduleID int64, requestingUser string) (RunResult, error) {
	sc, err := e.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return RunResult{}, err
	}
	if sc.UserID != requestingUser {
		return RunResult{}, ErrNotOwner
	}

	// Best effort: the overlap policy for scheduled fires lives in the
	// registrar, so a manual run only has the audit table to consult.
	running, err := e.store.HasRunningExecution(ctx, scheduleID)
	if err != nil {
		return RunResult{}, err
	}
	if running {
		return RunResult{}, ErrRunInProgress
	}

	res, runErr := e.run(ctx, sc)
	out := RunResult{
		LastRunAt:   time.Now().UTC(),
		TracksAdded: res.TracksAdded,
		TracksTotal: res.TracksTotal,
	}
	if runErr != nil {
		out.Status = storage.RunFailed
		return out, &ExecError{ScheduleID: scheduleID, Err: runErr}
	}
	out.Status = storage.RunSuccess
	return out, nil
}

// run owns the execution envelope: exactly one RUNNING row is opened before
// the handler and exactly one terminal update closes it, whatever happens in
// between.
func (e *Executor) run(ctx context.Context, sc *storage.Schedule) (jobs.Result, error) {
	exec, err := e.store.BeginExecution(ctx, sc.ID)
	if err != nil {
		e.log.Error("begin execution failed",
			logx.Int64("schedule_id", sc.ID), logx.Err(err))
		return jobs.Result{}, fmt.Errorf("begin execution: %w", err)
	}

	log := e.log.With(
		logx.Int64("schedule_id", sc.ID),
		logx.String("execution_id", exec.ID.String()),
		logx.String("job_type", sc.JobType.String()),
		logx.String("playlist", sc.PlaylistID),
	)
	log.Info("run started")
	e.publish(eventbus.JobStarted, sc, 0, jobs.Result{}, "")

	start := time.Now()
	res, runErr := e.dispatch(ctx, sc, log)
	elapsed := time.Since(start)

	// Finalization deliberately ignores the run's context: a deadline that
	// killed the job must not also block recording that it died.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr != nil {
		msg := truncate(runErr.Error(), maxErrorLen)
		if err := e.store.FinalizeExecution(fctx, exec.ID, storage.ExecFailed, res.TracksAdded, res.TracksTotal, msg); err != nil {
			log.Error("finalize failed execution", logx.Err(err))
		}
		if err := e.store.RecordRunOutcome(fctx, sc.ID, time.Now().UTC(), storage.RunFailed, msg); err != nil {
			log.Error("record run outcome", logx.Err(err))
		}
		log.Error("run failed", logx.Duration("elapsed", elapsed), logx.Err(runErr))
		e.publish(eventbus.JobFailed, sc, elapsed, res, msg)
		return res, runErr
	}

	if err := e.store.FinalizeExecution(fctx, exec.ID, storage.ExecSuccess, res.TracksAdded, res.TracksTotal, ""); err != nil {
		log.Error("finalize succeeded execution", logx.Err(err))
	}
	if err := e.store.RecordRunOutcome(fctx, sc.ID, time.Now().UTC(), storage.RunSuccess, ""); err != nil {
		log.Error("record run outcome", logx.Err(err))
	}
	log.Info("run succeeded",
		logx.Duration("elapsed", elapsed),
		logx.Int("tracks_added", res.TracksAdded),
		logx.Int("tracks_total", res.TracksTotal))
	e.publish(eventbus.JobSucceeded, sc, elapsed, res, "")
	return res, nil
}

// dispatch builds the per-run environment and routes to the handler for the
// schedule's job type. Handler panics are converted into run failures so a
// misbehaving shuffle algorithm cannot take the worker down.
func (e *Executor) dispatch(ctx context.Context, sc *storage.Schedule, log logx.Logger) (res jobs.Result, err error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = jobs.Result{}
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()

	user, err := e.store.UserByID(ctx, sc.UserID)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("load user %s: %w", sc.UserID, err)
	}
	api, err := e.clients.ClientFor(ctx, user)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("client for user %s: %w", sc.UserID, err)
	}

	env := jobs.Env{
		API:      api,
		Snaps:    e.store,
		User:     user,
		Schedule: sc,
		Log:      log,
	}

	switch sc.JobType {
	case storage.JobRaid:
		return jobs.Raid(ctx, env)
	case storage.JobShuffle:
		return jobs.Shuffle(ctx, env, e.algos)
	case storage.JobRotate:
		return jobs.Rotate(ctx, env)
	case storage.JobRaidShuffle:
		raidRes, err := jobs.Raid(ctx, env)
		if err != nil {
			return raidRes, err
		}
		shufRes, err := jobs.Shuffle(ctx, env, e.algos)
		if err != nil {
			return raidRes, err
		}
		return jobs.Result{TracksAdded: raidRes.TracksAdded, TracksTotal: shufRes.TracksTotal}, nil
	default:
		return jobs.Result{}, fmt.Errorf("unknown job type %q", sc.JobType)
	}
}

func (e *Executor) publish(typ string, sc *storage.Schedule, d time.Duration, res jobs.Result, errText string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: typ,
		Time: time.Now(),
		Data: eventbus.JobEvent{
			ScheduleID:  sc.ID,
			UserID:      sc.UserID,
			JobType:     sc.JobType.String(),
			Playlist:    sc.PlaylistID,
			Duration:    d,
			TracksAdded: res.TracksAdded,
			TracksTotal: res.TracksTotal,
			Error:       errText,
		},
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
