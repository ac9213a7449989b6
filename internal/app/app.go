// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, and the services built on top of them. It owns the
// start/stop ordering and the config hot-reload fan-out.
package app

import (
	"context"
	"fmt"
	"time"

	"safeguard/internal/bot"
	"safeguard/internal/campaign"
	"safeguard/internal/catalog"
	"safeguard/internal/config"
	"safeguard/internal/digest"
	"safeguard/internal/health"
	"safeguard/internal/ledger"
	"safeguard/internal/registry"
	rtsup "safeguard/internal/runtime/supervisor"
	"safeguard/internal/storage"
	"safeguard/internal/transport"
	"safeguard/internal/transport/telegram"
	"safeguard/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter

	registry *registry.Service
	ledger   *ledger.Service
	engine   *campaign.Engine
	handlers *bot.Handlers
	router   *bot.Router

	health *health.Service
	digest *digest.Service

	updates chan transport.Update
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

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	reg := registry.New(store, log.With(logx.String("comp", "registry")))
	led := ledger.New(store, log.With(logx.String("comp", "ledger")))
	cat := catalog.Default()

	sendInterval, err := config.ParseDurationOrDefault("campaign.send_interval", cfg.Campaign.SendInterval, 0)
	if err != nil {
		return nil, err
	}
	eng := campaign.New(campaign.Config{
		OperatorID:   cfg.Telegram.OperatorID,
		SendInterval: sendInterval,
	}, reg, ad, log.With(logx.String("comp", "campaign")))

	handlers := bot.NewHandlers(bot.Deps{
		Log:        log.With(logx.String("comp", "bot")),
		Registry:   reg,
		Ledger:     led,
		Catalog:    cat,
		Engine:     eng,
		OperatorID: cfg.Telegram.OperatorID,
		Payment:    cfg.Payment,
		Links:      cfg.Links,
	})
	router := bot.NewRouter(ad, log.With(logx.String("comp", "router")))
	handlers.Register(router)

	healthSvc := health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
	}, log.With(logx.String("comp", "health")))

	digestSvc := digest.New(reg, led, ad, cfg.Telegram.OperatorID,
		log.With(logx.String("comp", "digest")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		registry: reg,
		ledger:   led,
		engine:   eng,
		handlers: handlers,
		router:   router,
		health:   healthSvc,
		digest:   digestSvc,
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.handlers.SetSupervisor(a.sup)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.health.Enabled() {
		if err := a.health.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	cfg := a.cfgm.Get()
	if cfg.Digest.Enabled {
		if err := a.digest.Start(a.sup.Context(), digest.Config{
			Enabled:  true,
			Schedule: cfg.Digest.Schedule,
			Timezone: cfg.Digest.Timezone,
		}); err != nil {
			return err
		}
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig propagates a validated config to the live components.
// Storage and health changes need a restart; everything else is live.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	sendInterval, err := config.ParseDurationOrDefault("campaign.send_interval", cfg.Campaign.SendInterval, 0)
	if err != nil {
		a.log.Warn("invalid campaign config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(campaign.Config{
			OperatorID:   cfg.Telegram.OperatorID,
			SendInterval: sendInterval,
		})
	}

	a.handlers.Apply(cfg.Telegram.OperatorID, cfg.Payment, cfg.Links)
	a.digest.SetOperator(cfg.Telegram.OperatorID)

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("digest", 1*time.Second, func(c context.Context) error { a.digest.Stop(); return nil })
	step("health", 1*time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
