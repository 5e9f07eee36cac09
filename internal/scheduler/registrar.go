package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/internal/trigger"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

var ErrAlreadyStarted = errors.New("scheduler: already started")

const (
	defaultWorkers   = 3
	defaultQueueSize = 64
)

type Registrar struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner
	source ScheduleSource

	parser  cron.Parser
	c       *cron.Cron
	loc     *time.Location
	entries map[string]entry

	queue    chan task
	stopCh   chan struct{}
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, source ScheduleSource, runner Runner, bus eventbus.Bus, log logx.Logger) *Registrar {
	return &Registrar{
		cfg:    cfg,
		log:    log.With(logx.String("component", "scheduler")),
		bus:    bus,
		runner: runner,
		source: source,
		// Standard 5-field specs plus @every / @daily descriptors.
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]entry{},
	}
}

// Start brings up the cron runtime and worker pool, then registers every
// enabled schedule from the source. Calling Start on a running registrar
// returns ErrAlreadyStarted.
func (r *Registrar) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := r.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	r.stopCh = make(chan struct{})
	r.runCtx, r.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	// Fresh queue per run so a stop/start cycle never replays stale fires.
	r.queue = make(chan task, queueSize)

	loc := r.loadLocationLocked()
	r.loc = loc
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))

	runCtx := r.runCtx
	stopCh := r.stopCh
	queue := r.queue

	r.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer r.workerWG.Done()
			r.worker(runCtx, stopCh, queue, idx)
		}()
	}
	r.c.Start()
	r.mu.Unlock()

	schedules, err := r.source.EnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load enabled schedules: %w", err)
	}
	for i := range schedules {
		r.Add(&schedules[i])
	}

	r.log.Info("registrar started",
		logx.Int("workers", workers),
		logx.String("tz", loc.String()),
		logx.Int("schedules", len(schedules)))
	return nil
}

// Stop halts the cron runtime, signals workers, and waits for in-flight runs
// until ctx expires. Safe to call more than once.
func (r *Registrar) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	if r.stopDone != nil {
		done := r.stopDone
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	r.stopDone = done
	stopCh := r.stopCh
	cancel := r.runCancel
	c := r.c
	r.c = nil
	r.runCancel = nil
	r.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	go func() {
		r.workerWG.Wait()
		r.mu.Lock()
		r.stopCh = nil
		r.queue = nil
		r.stopDone = nil
		r.entries = map[string]entry{}
		r.mu.Unlock()
		close(done)
		r.log.Info("registrar stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// cleanup continues in background
	}
}

// Add registers (or re-registers) one schedule. Registration is an upsert
// keyed by the schedule's identity: adding an identity that already exists
// replaces the previous entry, so repeated Adds across edits and restarts
// never duplicate fires. A no-op when the registrar is not running.
func (r *Registrar) Add(sc *storage.Schedule) {
	tr := trigger.Translate(trigger.Kind(sc.TriggerKind), sc.TriggerValue)
	if tr.Warning != "" {
		r.log.Warn("degraded trigger",
			logx.Int64("schedule_id", sc.ID),
			logx.String("warning", tr.Warning))
	}
	spec := tr.Spec()
	identity := sc.Identity()

	r.mu.Lock()
	if r.c == nil {
		r.mu.Unlock()
		r.log.Debug("registrar not running; add ignored", logx.String("identity", identity))
		return
	}
	// Re-registration keeps the previous entry's latch: a run still in
	// flight under the old entry must also block the new one.
	state := &runState{}
	if prev, ok := r.entries[identity]; ok {
		r.c.Remove(prev.entryID)
		delete(r.entries, identity)
		state = prev.state
	}
	id := sc.ID
	entryID, err := r.c.AddFunc(spec, func() {
		r.fire(id, identity, state)
	})
	if err != nil {
		// Translate guarantees a parseable spec; reaching this means the
		// parser and translator disagree on syntax.
		r.mu.Unlock()
		r.log.Error("entry registration failed",
			logx.String("identity", identity),
			logx.String("spec", spec),
			logx.Err(err))
		return
	}
	r.entries[identity] = entry{entryID: entryID, spec: spec, state: state}
	loc := r.loc
	r.mu.Unlock()

	r.log.Debug("entry registered",
		logx.String("identity", identity),
		logx.String("spec", spec))

	r.catchUp(sc, spec, identity, state, loc)
}

// Remove unregisters a schedule's entry. Unknown identities are a no-op, so
// delete and disable flows can call it unconditionally.
func (r *Registrar) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[identity]
	if !ok {
		return
	}
	if r.c != nil {
		r.c.Remove(e.entryID)
	}
	delete(r.entries, identity)
	r.log.Debug("entry removed", logx.String("identity", identity))
}

// Entries snapshots the registered entries, sorted by identity.
func (r *Registrar) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryInfo, 0, len(r.entries))
	for identity, e := range r.entries {
		info := EntryInfo{Identity: identity, Spec: e.spec}
		if r.c != nil {
			ce := r.c.Entry(e.entryID)
			info.Prev, info.Next = ce.Prev, ce.Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// catchUp enqueues at most one immediate run when the schedule's next fire
// after its last recorded run already passed, and did so within the misfire
// grace window. Older misses are abandoned; the regular cadence resumes on
// its own.
func (r *Registrar) catchUp(sc *storage.Schedule, spec, identity string, state *runState, loc *time.Location) {
	if r.cfg.MisfireGrace <= 0 || !sc.LastRunAt.Valid {
		return
	}
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return
	}
	missed := sched.Next(sc.LastRunAt.Time.In(loc))
	now := time.Now().In(loc)
	if !missed.Before(now) {
		return
	}
	if now.Sub(missed) > r.cfg.MisfireGrace {
		r.log.Debug("missed fire outside grace; skipping catch-up",
			logx.String("identity", identity),
			logx.Time("missed", missed))
		return
	}
	r.log.Info("coalesced catch-up run",
		logx.String("identity", identity),
		logx.Time("missed", missed))
	r.fire(sc.ID, identity, state)
}

func (r *Registrar) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
