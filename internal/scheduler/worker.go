package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

// fire is the cron callback body. The overlap latch is taken here, before
// queueing, so a schedule can occupy at most one queue slot and one worker at
// a time.
func (r *Registrar) fire(scheduleID int64, identity string, state *runState) {
	if !state.tryAcquire() {
		r.log.Warn("fire skipped; previous run still in flight",
			logx.String("identity", identity))
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{
				Type: eventbus.JobMissed,
				Time: time.Now(),
				Data: eventbus.JobEvent{ScheduleID: scheduleID},
			})
		}
		return
	}
	r.enqueue(task{scheduleID: scheduleID, identity: identity, state: state})
}

func (r *Registrar) enqueue(t task) {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q == nil {
		t.state.release()
		r.log.Debug("registrar not running; dropping fire", logx.String("identity", t.identity))
		return
	}
	select {
	case q <- t:
	default:
		t.state.release()
		r.log.Warn("queue full; dropping fire",
			logx.String("identity", t.identity),
			logx.Int("queue_cap", cap(q)))
	}
}

func (r *Registrar) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	log := r.log.With(logx.Int("worker", idx))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			r.runOne(ctx, t, log)
		}
	}
}

func (r *Registrar) runOne(ctx context.Context, t task, log logx.Logger) {
	defer t.state.release()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in worker",
				logx.String("identity", t.identity),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	r.runner.Execute(ctx, t.scheduleID)
}
