// Package app wires the service graph: config, logging, storage, the token
// manager, the executor, the registrar, and the optional alert sink.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chrisrogers37/shuffify-sub000/internal/config"
	"github.com/chrisrogers37/shuffify-sub000/internal/eventbus"
	"github.com/chrisrogers37/shuffify-sub000/internal/executor"
	"github.com/chrisrogers37/shuffify-sub000/internal/notify"
	"github.com/chrisrogers37/shuffify-sub000/internal/scheduler"
	"github.com/chrisrogers37/shuffify-sub000/internal/schedules"
	"github.com/chrisrogers37/shuffify-sub000/internal/shuffle"
	"github.com/chrisrogers37/shuffify-sub000/internal/spotify"
	"github.com/chrisrogers37/shuffify-sub000/internal/storage"
	"github.com/chrisrogers37/shuffify-sub000/internal/tokens"
	"github.com/chrisrogers37/shuffify-sub000/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store *storage.Store
	bus   eventbus.Bus

	reg   *scheduler.Registrar
	sched *schedules.Service
	notif *notify.Service

	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(log.With(logx.String("component", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	busyTimeout, err := cfg.Storage.BusyTimeout.Resolve("storage.busy_timeout", 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("component", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	apiTimeout, err := cfg.Spotify.Timeout.Resolve("spotify.timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := cfg.Spotify.Retry.Base.Resolve("spotify.retry.base", 0)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := cfg.Spotify.Retry.MaxDelay.Resolve("spotify.retry.max_delay", 0)
	if err != nil {
		return nil, err
	}
	ccfg := spotify.Config{
		APIBase:    cfg.Spotify.APIBase,
		RatePerSec: cfg.Spotify.RatePerSec,
		Timeout:    apiTimeout,
		Retry: spotify.RetryConfig{
			Max:      cfg.Spotify.Retry.Max,
			Base:     retryBase,
			MaxDelay: retryMaxDelay,
		},
	}
	auth := spotify.NewAuthenticator(cfg.Spotify.AccountsBase, cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, apiTimeout)

	tm, err := tokens.NewManager(cfg.Tokens.Secret, store, auth, ccfg,
		logSvc.Logger().With(logx.String("component", "tokens")))
	if err != nil {
		return nil, err
	}

	algos := shuffle.NewRegistry()

	execTimeout, err := cfg.Scheduler.DefaultTimeout.Resolve("scheduler.default_timeout", 0)
	if err != nil {
		return nil, err
	}
	exec := executor.New(executor.Config{Timeout: execTimeout}, store,
		executor.TokenClients{Manager: tm}, algos, bus, logSvc.Logger())

	misfireGrace, err := cfg.Scheduler.MisfireGrace.Resolve("scheduler.misfire_grace", time.Hour)
	if err != nil {
		return nil, err
	}
	reg := scheduler.New(scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		Timezone:     cfg.Scheduler.Timezone,
		MisfireGrace: misfireGrace,
	}, store, exec, bus, logSvc.Logger())

	schedSvc := schedules.New(schedules.Config{
		MaxSchedulesPerUser: cfg.Limits.MaxSchedulesPerUser,
	}, store, reg, algos, logSvc.Logger())

	var notif *notify.Service
	if cfg.Alerts != nil {
		notif, err = notify.New(notify.Config{
			Enabled:    cfg.Alerts.Enabled,
			BotToken:   cfg.Alerts.BotToken,
			ChatID:     cfg.Alerts.ChatID,
			RatePerMin: cfg.Alerts.RatePerMin,
		}, bus, logSvc.Logger())
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfgm:  cfgm,
		logs:  logSvc,
		log:   log,
		store: store,
		bus:   bus,
		reg:   reg,
		sched: schedSvc,
		notif: notif,
	}, nil
}

// Schedules exposes the management surface to transports.
func (a *App) Schedules() *schedules.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	if a.notif != nil {
		a.notif.Start(ctx)
	}

	if cfg.Scheduler.Enabled {
		if err := a.reg.Start(ctx); err != nil {
			return fmt.Errorf("start registrar: %w", err)
		}
	} else {
		a.log.Info("scheduler disabled by config; no triggers registered")
	}

	// Watch the config file; a valid edit re-applies the logging sinks.
	// Scheduler and storage settings take effect on the next restart.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go a.applyLoop(watchCtx)

	a.log.Info("started")
	return nil
}

func (a *App) applyLoop(ctx context.Context) {
	updates := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded; logging re-applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.reg.Stop(ctx)
	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
