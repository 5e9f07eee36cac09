package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, what.(string))
	return &tele.Message{}, nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func testService(bus eventbus.Bus, sender Sender, perMin int) *Service {
	return &Service{
		cfg:     Config{Enabled: true, ChatID: 42, RatePerMin: perMin},
		log:     logx.Nop(),
		bus:     bus,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}
}

func TestAlertFormatsFailure(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	s := testService(eventbus.New(), sender, 10)

	s.alert(eventbus.JobEvent{
		ScheduleID: 12,
		JobType:    "rotate",
		Playlist:   "pl9",
		Duration:   1500 * time.Millisecond,
		Error:      "remote exploded",
	})

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d messages", len(sender.sent))
	}
	msg := sender.sent[0]
	for _, want := range []string{"Schedule 12", "rotate", "pl9", "1.5s", "remote exploded"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestAlertRateLimitSummarizesSuppressed(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	s := testService(eventbus.New(), sender, 2)

	// Burst of 2 goes through; the next two are suppressed.
	for i := 0; i < 4; i++ {
		s.alert(eventbus.JobEvent{ScheduleID: int64(i), JobType: "raid"})
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sender.sent))
	}

	// Hand the service a fresh token and confirm the summary rides along.
	s.limiter = rate.NewLimiter(rate.Every(time.Minute), 1)
	s.alert(eventbus.JobEvent{ScheduleID: 99, JobType: "raid"})
	last := sender.sent[len(sender.sent)-1]
	if !strings.Contains(last, "2 earlier failure alerts") {
		t.Fatalf("summary missing from %q", last)
	}
}

func TestStartOnlyReactsToFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &recordingSender{}
	s := testService(bus, sender, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.JobSucceeded, Time: time.Now(), Data: eventbus.JobEvent{ScheduleID: 1}})
	bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Time: time.Now(), Data: eventbus.JobEvent{ScheduleID: 2, JobType: "shuffle", Error: "boom"}})

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no alert sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sender.messages(); len(got) != 1 || !strings.Contains(got[0], "Schedule 2") {
		t.Fatalf("sent = %v", got)
	}

	s.Stop(context.Background())
}

func TestDisabledServiceIsInert(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Enabled: false}, eventbus.New(), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Enabled: true, ChatID: 42}, eventbus.New(), logx.Nop()); err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if _, err := New(Config{Enabled: true, BotToken: "t"}, eventbus.New(), logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat id")
	}
}
