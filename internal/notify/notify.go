// Package notify pushes failure alerts to a Telegram chat. It is a pure
// observer: it subscribes to job events on the bus and owns no scheduling
// state, so losing an alert never affects a run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

type Config struct {
	Enabled  bool
	BotToken string
	ChatID   int64

	// RatePerMin caps outbound alerts; excess failures are summarized in the
	// next alert instead of sent individually. Zero means 10.
	RatePerMin int
}

// Sender is the one telebot call the service makes. *tele.Bot satisfies it;
// tests substitute a recorder.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int

	unsub func()
	done  chan struct{}
}

// New builds the alert service. When cfg.Enabled is false the service is a
// no-op shell: Start and Stop succeed and nothing is sent.
func New(cfg Config, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	s := &Service{
		cfg: cfg,
		bus: bus,
		log: log.With(logx.String("component", "notify")),
	}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("notify: bot token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat id is empty")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.BotToken})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	s.sender = bot

	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 10
	}
	s.limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.sender == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if e.Type != eventbus.JobFailed {
					continue
				}
				je, ok := e.Data.(eventbus.JobEvent)
				if !ok {
					continue
				}
				s.alert(je)
			}
		}
	}()
	s.log.Info("failure alerts enabled", logx.Int64("chat_id", s.cfg.ChatID))
}

func (s *Service) Stop(ctx context.Context) {
	if s.unsub != nil {
		s.unsub()
	}
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Service) alert(je eventbus.JobEvent) {
	if !s.limiter.Allow() {
		s.mu.Lock()
		s.suppressed++
		n := s.suppressed
		s.mu.Unlock()
		s.log.Debug("alert suppressed by rate limit",
			logx.Int64("schedule_id", je.ScheduleID),
			logx.Int("suppressed", n))
		return
	}

	s.mu.Lock()
	suppressed := s.suppressed
	s.suppressed = 0
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Schedule %d (%s) failed", je.ScheduleID, je.JobType)
	if je.Playlist != "" {
		fmt.Fprintf(&b, " on playlist %s", je.Playlist)
	}
	if je.Duration > 0 {
		fmt.Fprintf(&b, " after %s", je.Duration.Round(time.Millisecond))
	}
	if je.Error != "" {
		fmt.Fprintf(&b, "\n%s", je.Error)
	}
	if suppressed > 0 {
		fmt.Fprintf(&b, "\n(%d earlier failure alerts were rate-limited)", suppressed)
	}

	if _, err := s.sender.Send(tele.ChatID(s.cfg.ChatID), b.String()); err != nil {
		s.log.Warn("alert send failed",
			logx.Int64("schedule_id", je.ScheduleID),
			logx.Err(err))
	}
}
