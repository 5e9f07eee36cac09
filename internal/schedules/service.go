package schedules

import (
	"context"
	"fmt"
	"strings"

	"github.com/chrisrogers37/shuffify-sub000/internal/jobs"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/internal/trigger"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

type Service struct {
	cfg   Config
	store Store
	reg   Registrar
	algos AlgorithmSet
	log   logx.Logger
}

func New(cfg Config, store Store, reg Registrar, algos AlgorithmSet, log logx.Logger) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		reg:   reg,
		algos: algos,
		log:   log.With(logx.String("component", "schedules")),
	}
}

// Create validates and persists a new schedule for its owner, then registers
// it when enabled. The per-user cap is checked before the insert.
func (s *Service) Create(ctx context.Context, sc *storage.Schedule) error {
	if err := s.validate(sc); err != nil {
		return err
	}

	limit := s.cfg.MaxSchedulesPerUser
	if limit <= 0 {
		limit = defaultMaxPerUser
	}
	n, err := s.store.CountSchedulesForUser(ctx, sc.UserID)
	if err != nil {
		return fmt.Errorf("count schedules: %w", err)
	}
	if n >= limit {
		return ErrLimitExceeded
	}

	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return err
	}
	if sc.Enabled {
		s.reg.Add(sc)
	}
	s.log.Info("schedule created",
		logx.Int64("schedule_id", sc.ID),
		logx.String("user", sc.UserID),
		logx.String("job_type", sc.JobType.String()))
	return nil
}

// Update replaces a schedule's configuration. The stored row decides
// ownership; id, owner, and bookkeeping fields are never overwritten from
// the incoming value. Registration is rebuilt so trigger edits take effect
// on the next fire.
func (s *Service) Update(ctx context.Context, userID string, sc *storage.Schedule) error {
	existing, err := s.store.ScheduleByID(ctx, sc.ID)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	sc.UserID = existing.UserID
	if err := s.validate(sc); err != nil {
		return err
	}

	if err := s.store.UpdateSchedule(ctx, sc); err != nil {
		return err
	}
	s.reg.Remove(sc.Identity())
	if sc.Enabled {
		s.reg.Add(sc)
	}
	s.log.Info("schedule updated", logx.Int64("schedule_id", sc.ID))
	return nil
}

// Delete removes a schedule and its execution history, and unregisters it.
func (s *Service) Delete(ctx context.Context, userID string, id int64) error {
	existing, err := s.store.ScheduleByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.reg.Remove(existing.Identity())
	s.log.Info("schedule deleted", logx.Int64("schedule_id", id))
	return nil
}

// SetEnabled flips a schedule on or off and syncs the registrar.
func (s *Service) SetEnabled(ctx context.Context, userID string, id int64, enabled bool) error {
	existing, err := s.store.ScheduleByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.UserID != userID {
		return ErrNotOwner
	}
	if err := s.store.SetScheduleEnabled(ctx, id, enabled); err != nil {
		return err
	}
	if enabled {
		existing.Enabled = true
		s.reg.Add(existing)
	} else {
		s.reg.Remove(existing.Identity())
	}
	s.log.Info("schedule toggled", logx.Int64("schedule_id", id), logx.Bool("enabled", enabled))
	return nil
}

// Get returns one schedule after an ownership check.
func (s *Service) Get(ctx context.Context, userID string, id int64) (*storage.Schedule, error) {
	sc, err := s.store.ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.UserID != userID {
		return nil, ErrNotOwner
	}
	return sc, nil
}

// List returns the user's schedules, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]storage.Schedule, error) {
	return s.store.SchedulesForUser(ctx, userID)
}

// History returns a schedule's recent executions, newest first.
func (s *Service) History(ctx context.Context, userID string, id int64, limit int) ([]storage.JobExecution, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.ExecutionsForSchedule(ctx, id, limit)
}

// validate enforces creation-time strictness. Fire time is deliberately
// lenient (triggers degrade, algorithms fall back); the door is where bad
// input gets rejected.
func (s *Service) validate(sc *storage.Schedule) error {
	f := map[string]string{}

	if strings.TrimSpace(sc.UserID) == "" {
		f["user_id"] = "required"
	}
	if !sc.JobType.Valid() {
		f["job_type"] = fmt.Sprintf("unknown job type %q", sc.JobType)
	}
	if strings.TrimSpace(sc.PlaylistID) == "" {
		f["playlist_id"] = "required"
	}

	switch sc.TriggerKind {
	case storage.TriggerInterval, storage.TriggerCron:
		tr := trigger.Translate(trigger.Kind(sc.TriggerKind), sc.TriggerValue)
		if tr.Warning != "" {
			f["trigger_value"] = tr.Warning
		}
	default:
		f["trigger_kind"] = fmt.Sprintf("unknown trigger kind %q", sc.TriggerKind)
	}

	if sc.JobType == storage.JobRotate {
		if sc.Params.String("archive_playlist_id", "") == "" {
			f["params.archive_playlist_id"] = "required for rotate"
		}
		switch mode := sc.Params.String("rotation_mode", jobs.ModeArchiveOldest); mode {
		case jobs.ModeArchiveOldest, jobs.ModeRefresh, jobs.ModeSwap:
		default:
			f["params.rotation_mode"] = fmt.Sprintf("unknown rotation mode %q", mode)
		}
		if _, ok := sc.Params["rotation_count"]; ok && sc.Params.Int("rotation_count", 0) < 1 {
			f["params.rotation_count"] = "must be at least 1"
		}
	}

	if (sc.JobType == storage.JobShuffle || sc.JobType == storage.JobRaidShuffle) && sc.Algorithm != "" {
		if !s.knownAlgorithm(sc.Algorithm) {
			f["algorithm"] = fmt.Sprintf("unknown algorithm %q", sc.Algorithm)
		}
	}

	if len(f) > 0 {
		return &ValidationError{Fields: f}
	}
	return nil
}

func (s *Service) knownAlgorithm(name string) bool {
	if s.algos == nil {
		return true
	}
	for _, n := range s.algos.Names() {
		if n == name {
			return true
		}
	}
	return false
}
