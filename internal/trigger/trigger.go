// Package trigger translates a schedule's declared kind/value into a concrete
// recurrence rule the registrar can hand to cron.
//
// Translate never rejects input: malformed values degrade to a safe daily
// default, reported through Trigger.Warning for the caller to log. Rejection
// belongs at schedule creation; by fire time the only correct move is to keep
// the schedule alive.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

// The closed set of named interval tokens.
const (
	Every6Hours  = "every 6 hours"
	Every12Hours = "every 12 hours"
	Daily        = "daily"
	Every3Days   = "every 3 days"
	Weekly       = "weekly"
)

var intervalTokens = map[string]time.Duration{
	Every6Hours:  6 * time.Hour,
	Every12Hours: 12 * time.Hour,
	Daily:        24 * time.Hour,
	Every3Days:   3 * 24 * time.Hour,
	Weekly:       7 * 24 * time.Hour,
}

const (
	dailyEvery   = 24 * time.Hour
	dailyAtCron  = "0 0 * * *"
	cronFieldLen = 5
)

// Trigger is the concrete recurrence rule derived from one schedule.
type Trigger struct {
	Kind     Kind
	Every    time.Duration // set when Kind == KindInterval
	CronExpr string        // set when Kind == KindCron

	// Warning is non-empty when the input was malformed and a fallback was
	// applied. The caller decides whether and how to log it.
	Warning string
}

// Spec renders the trigger in robfig/cron syntax.
func (t Trigger) Spec() string {
	if t.Kind == KindCron {
		return t.CronExpr
	}
	return fmt.Sprintf("@every %s", t.Every)
}

// Interval returns the effective period of the trigger, used for coalesced
// catch-up math. Cron triggers approximate to the gap between the next two
// fires from now.
func (t Trigger) Interval() time.Duration {
	if t.Kind == KindInterval {
		return t.Every
	}
	sched, err := cron.ParseStandard(t.CronExpr)
	if err != nil {
		return dailyEvery
	}
	first := sched.Next(time.Now())
	return sched.Next(first).Sub(first)
}

// Translate maps a schedule's kind/value pair onto a Trigger.
//
// Interval mode recognizes the closed token set above; anything else falls
// back to daily. Cron mode requires exactly 5 whitespace-separated fields
// that parse under the standard parser; anything else falls back to daily at
// midnight. An unknown kind falls back to daily.
func Translate(kind Kind, value string) Trigger {
	value = strings.TrimSpace(value)

	switch kind {
	case KindInterval:
		token := strings.ToLower(value)
		if every, ok := intervalTokens[token]; ok {
			return Trigger{Kind: KindInterval, Every: every}
		}
		return Trigger{
			Kind:    KindInterval,
			Every:   dailyEvery,
			Warning: fmt.Sprintf("unrecognized interval token %q; falling back to daily", value),
		}

	case KindCron:
		if fields := strings.Fields(value); len(fields) != cronFieldLen {
			return Trigger{
				Kind:     KindCron,
				CronExpr: dailyAtCron,
				Warning:  fmt.Sprintf("cron value %q has %d fields, want %d; falling back to daily at 00:00", value, len(fields), cronFieldLen),
			}
		}
		if _, err := cron.ParseStandard(value); err != nil {
			return Trigger{
				Kind:     KindCron,
				CronExpr: dailyAtCron,
				Warning:  fmt.Sprintf("cron value %q does not parse (%v); falling back to daily at 00:00", value, err),
			}
		}
		return Trigger{Kind: KindCron, CronExpr: value}

	default:
		return Trigger{
			Kind:    KindInterval,
			Every:   dailyEvery,
			Warning: fmt.Sprintf("unknown schedule kind %q; falling back to daily", kind),
		}
	}
}

// ValidTokens lists the accepted interval tokens (for creation-time validation
// and form rendering).
func ValidTokens() []string {
	return []string{Every6Hours, Every12Hours, Daily, Every3Days, Weekly}
}
