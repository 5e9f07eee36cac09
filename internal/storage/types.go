package storage

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("storage: not found")

// JobType is the closed set of schedule job kinds.
type JobType string

const (
	JobRaid        JobType = "raid"
	JobShuffle     JobType = "shuffle"
	JobRotate      JobType = "rotate"
	JobRaidShuffle JobType = "raid_shuffle"
)

func (t JobType) String() string { return string(t) }

func (t JobType) Valid() bool {
	switch t {
	case JobRaid, JobShuffle, JobRotate, JobRaidShuffle:
		return true
	default:
		return false
	}
}

// TriggerKind selects how TriggerValue is interpreted.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
)

// RunStatus is a schedule's last-run outcome shown on the dashboard.
type RunStatus string

const (
	RunNone    RunStatus = "NONE"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// ExecStatus is a JobExecution's lifecycle state.
// Transitions are RUNNING -> SUCCESS or RUNNING -> FAILED, exactly once.
type ExecStatus string

const (
	ExecRunning ExecStatus = "RUNNING"
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailed  ExecStatus = "FAILED"
)

func (s ExecStatus) Terminal() bool { return s == ExecSuccess || s == ExecFailed }

// StringList is a JSON-encoded TEXT column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	b, err := columnBytes(src)
	if err != nil {
		return fmt.Errorf("StringList: %w", err)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

// ParamMap is a JSON-encoded TEXT column holding algorithm parameters.
type ParamMap map[string]any

func (m ParamMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *ParamMap) Scan(src any) error {
	b, err := columnBytes(src)
	if err != nil {
		return fmt.Errorf("ParamMap: %w", err)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, (*map[string]any)(m))
}

// String reads a string parameter, with a default for missing/mistyped values.
func (m ParamMap) String(key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int reads an integer parameter. JSON numbers decode as float64, so both
// representations are accepted.
func (m ParamMap) Int(key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func columnBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
}

// Schedule is a persisted job configuration owned by one user.
type Schedule struct {
	ID           int64       `db:"id"`
	UserID       string      `db:"user_id"`
	JobType      JobType     `db:"job_type"`
	PlaylistID   string      `db:"playlist_id"`
	PlaylistName string      `db:"playlist_name"`
	SourceIDs    StringList  `db:"source_ids"`
	Algorithm    string      `db:"algorithm"`
	Params       ParamMap    `db:"params"`
	TriggerKind  TriggerKind `db:"trigger_kind"`
	TriggerValue string      `db:"trigger_value"`
	Enabled      bool        `db:"enabled"`

	LastRunAt  sql.NullTime `db:"last_run_at"`
	LastStatus RunStatus    `db:"last_status"`
	LastError  string       `db:"last_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Identity is the stable registrar key derived from the schedule id.
func (s *Schedule) Identity() string { return fmt.Sprintf("schedule_%d", s.ID) }

// JobExecution is one audited run of a schedule. Append-only.
type JobExecution struct {
	ID          uuid.UUID    `db:"id"`
	ScheduleID  int64        `db:"schedule_id"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	Status      ExecStatus   `db:"status"`
	TracksAdded int          `db:"tracks_added"`
	TracksTotal int          `db:"tracks_total"`
	Error       string       `db:"error"`
}

// User is the owner of schedules and of one encrypted refresh credential.
type User struct {
	ID           string    `db:"id"`
	DisplayName  string    `db:"display_name"`
	RefreshToken string    `db:"refresh_token"` // AES-GCM ciphertext, base64
	AutoSnapshot bool      `db:"auto_snapshot"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Snapshot captures a playlist's track order before a destructive rotation.
type Snapshot struct {
	ID         int64      `db:"id"`
	UserID     string     `db:"user_id"`
	PlaylistID string     `db:"playlist_id"`
	TrackURIs  StringList `db:"track_uris"`
	TakenAt    time.Time  `db:"taken_at"`
}
