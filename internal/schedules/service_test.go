package schedules

import (
	"context"
	"errors"
	"testing"

	"github.com/chrisrogers37/shuffify-sub000/internal/shuffle"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

type memStore struct {
	nextID    int64
	schedules map[int64]*storage.Schedule
}

func newMemStore() *memStore {
	return &memStore{schedules: map[int64]*storage.Schedule{}}
}

func (m *memStore) CreateSchedule(_ context.Context, sc *storage.Schedule) error {
	m.nextID++
	sc.ID = m.nextID
	cp := *sc
	m.schedules[sc.ID] = &cp
	return nil
}

func (m *memStore) UpdateSchedule(_ context.Context, sc *storage.Schedule) error {
	if _, ok := m.schedules[sc.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *sc
	m.schedules[sc.ID] = &cp
	return nil
}

func (m *memStore) DeleteSchedule(_ context.Context, id int64) error {
	if _, ok := m.schedules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memStore) SetScheduleEnabled(_ context.Context, id int64, enabled bool) error {
	sc, ok := m.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	sc.Enabled = enabled
	return nil
}

func (m *memStore) ScheduleByID(_ context.Context, id int64) (*storage.Schedule, error) {
	sc, ok := m.schedules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (m *memStore) SchedulesForUser(_ context.Context, userID string) ([]storage.Schedule, error) {
	var out []storage.Schedule
	for _, sc := range m.schedules {
		if sc.UserID == userID {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (m *memStore) CountSchedulesForUser(_ context.Context, userID string) (int, error) {
	n := 0
	for _, sc := range m.schedules {
		if sc.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExecutionsForSchedule(_ context.Context, _ int64, _ int) ([]storage.JobExecution, error) {
	return nil, nil
}

type recordingRegistrar struct {
	added   []int64
	removed []string
}

func (r *recordingRegistrar) Add(sc *storage.Schedule) { r.added = append(r.added, sc.ID) }
func (r *recordingRegistrar) Remove(identity string)   { r.removed = append(r.removed, identity) }

func validSchedule(userID string) *storage.Schedule {
	return &storage.Schedule{
		UserID:       userID,
		JobType:      storage.JobShuffle,
		PlaylistID:   "pl1",
		Algorithm:    "basic",
		TriggerKind:  storage.TriggerInterval,
		TriggerValue: "daily",
		Enabled:      true,
	}
}

func newService(store Store, reg Registrar) *Service {
	return New(Config{}, store, reg, shuffle.NewRegistry(), logx.Nop())
}

func TestCreateRegistersEnabledSchedule(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	reg := &recordingRegistrar{}
	svc := newService(store, reg)

	sc := validSchedule("u1")
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sc.ID == 0 {
		t.Fatal("id not assigned")
	}
	if len(reg.added) != 1 || reg.added[0] != sc.ID {
		t.Fatalf("registrar adds = %v", reg.added)
	}
}

func TestCreateDisabledScheduleSkipsRegistrar(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	reg := &recordingRegistrar{}
	svc := newService(store, reg)

	sc := validSchedule("u1")
	sc.Enabled = false
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(reg.added) != 0 {
		t.Fatalf("registrar adds = %v, want none", reg.added)
	}
}

func TestCreateEnforcesPerUserCap(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := New(Config{MaxSchedulesPerUser: 2}, store, &recordingRegistrar{}, shuffle.NewRegistry(), logx.Nop())

	for i := 0; i < 2; i++ {
		if err := svc.Create(context.Background(), validSchedule("u1")); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	err := svc.Create(context.Background(), validSchedule("u1"))
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	// The cap is per user; another user is unaffected.
	if err := svc.Create(context.Background(), validSchedule("u2")); err != nil {
		t.Fatalf("other user blocked: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc := newService(newMemStore(), &recordingRegistrar{})

	tests := []struct {
		name   string
		mutate func(*storage.Schedule)
		field  string
	}{
		{"bad job type", func(sc *storage.Schedule) { sc.JobType = "compactor" }, "job_type"},
		{"missing playlist", func(sc *storage.Schedule) { sc.PlaylistID = "" }, "playlist_id"},
		{"missing user", func(sc *storage.Schedule) { sc.UserID = " " }, "user_id"},
		{"bad trigger kind", func(sc *storage.Schedule) { sc.TriggerKind = "lunar" }, "trigger_kind"},
		{"bad interval token", func(sc *storage.Schedule) { sc.TriggerValue = "every eon" }, "trigger_value"},
		{"bad cron", func(sc *storage.Schedule) {
			sc.TriggerKind = storage.TriggerCron
			sc.TriggerValue = "not a cron"
		}, "trigger_value"},
		{"unknown algorithm", func(sc *storage.Schedule) { sc.Algorithm = "quantum" }, "algorithm"},
		{"rotate without archive", func(sc *storage.Schedule) {
			sc.JobType = storage.JobRotate
		}, "params.archive_playlist_id"},
		{"rotate bad mode", func(sc *storage.Schedule) {
			sc.JobType = storage.JobRotate
			sc.Params = storage.ParamMap{"archive_playlist_id": "arch", "rotation_mode": "sideways"}
		}, "params.rotation_mode"},
		{"rotate zero count", func(sc *storage.Schedule) {
			sc.JobType = storage.JobRotate
			sc.Params = storage.ParamMap{"archive_playlist_id": "arch", "rotation_count": 0}
		}, "params.rotation_count"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc := validSchedule("u1")
			tt.mutate(sc)
			err := svc.Create(context.Background(), sc)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Fatalf("fields = %v, want %s", verr.Fields, tt.field)
			}
		})
	}
}

func TestValidCronScheduleAccepted(t *testing.T) {
	t.Parallel()
	svc := newService(newMemStore(), &recordingRegistrar{})
	sc := validSchedule("u1")
	sc.TriggerKind = storage.TriggerCron
	sc.TriggerValue = "30 4 * * 1"
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestUpdateRebuildsRegistration(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	reg := &recordingRegistrar{}
	svc := newService(store, reg)

	sc := validSchedule("u1")
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sc.TriggerValue = "weekly"
	if err := svc.Update(context.Background(), "u1", sc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(reg.removed) != 1 || reg.removed[0] != sc.Identity() {
		t.Fatalf("removed = %v", reg.removed)
	}
	if len(reg.added) != 2 {
		t.Fatalf("added = %v, want re-add after update", reg.added)
	}

	got, err := store.ScheduleByID(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("ScheduleByID: %v", err)
	}
	if got.TriggerValue != "weekly" {
		t.Fatalf("trigger = %q", got.TriggerValue)
	}
}

func TestUpdateByNonOwnerRejected(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newService(store, &recordingRegistrar{})

	sc := validSchedule("u1")
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Update(context.Background(), "intruder", sc); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestDeleteUnregisters(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	reg := &recordingRegistrar{}
	svc := newService(store, reg)

	sc := validSchedule("u1")
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), "u1", sc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(reg.removed) != 1 {
		t.Fatalf("removed = %v", reg.removed)
	}
	if _, err := store.ScheduleByID(context.Background(), sc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("schedule survived delete: %v", err)
	}

	if err := svc.Delete(context.Background(), "u1", 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing delete err = %v", err)
	}
}

func TestSetEnabledSyncsRegistrar(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	reg := &recordingRegistrar{}
	svc := newService(store, reg)

	sc := validSchedule("u1")
	if err := svc.Create(context.Background(), sc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.SetEnabled(context.Background(), "u1", sc.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if len(reg.removed) != 1 {
		t.Fatalf("removed = %v", reg.removed)
	}
	got, _ := store.ScheduleByID(context.Background(), sc.ID)
	if got.Enabled {
		t.Fatal("still enabled in store")
	}

	if err := svc.SetEnabled(context.Background(), "u1", sc.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(reg.added) != 2 {
		t.Fatalf("added = %v, want re-add on enable", reg.added)
	}
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	t.Parallel()
	err := &ValidationError{Fields: map[string]string{
		"playlist_id": "required",
		"job_type":    "unknown job type \"x\"",
	}}
	want := `invalid schedule: job_type: unknown job type "x"; playlist_id: required`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
