// Package app wires the daemon together: config, logging, storage, transport,
// the delivery pipeline, the command gateway, and the optional admin API.
package app

import (
	"context"
	"strings"
	"time"

	"botcast/internal/admin"
	"botcast/internal/audit"
	"botcast/internal/authz"
	"botcast/internal/config"
	"botcast/internal/delivery"
	"botcast/internal/eventbus"
	"botcast/internal/gateway"
	rtsup "botcast/internal/runtime/supervisor"
	"botcast/internal/storage"
	kit "botcast/internal/transport"
	"botcast/internal/transport/telegram"
	logx "botcast/pkg/logx"
)

// Command is a host-defined bot command registered alongside the built-ins.
type Command struct {
	Name        string
	Description string
	Handle      gateway.HandlerFunc
}

// Options carries the pieces that cannot be expressed in a config file.
type Options struct {
	// AllowlistResolver, when set, overrides the configured allowlist mode
	// with a dynamic policy consulted on every command.
	AllowlistResolver authz.ResolveFunc

	// Commands are extra bot commands. They go through the same allowlist
	// gate as the built-ins.
	Commands []Command
}

// App is the assembled daemon.
type App struct {
	manager *config.Manager
	opts    Options

	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	adapter  *telegram.Adapter
	bus      eventbus.Bus
	rec      *audit.Recorder
	sweeper  *audit.Sweeper
	pipeline *delivery.Service
	gw       *gateway.Gateway
	adminSrv *admin.Server

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

// New builds the daemon from an already-loaded config manager.
func New(manager *config.Manager, opts Options) (*App, error) {
	cfg := manager.Get()

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleOrDefault(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	manager.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutOrDefault(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	rec := audit.New(audit.Config{
		Enabled:       cfg.Engine.EventLoggingOrDefault(),
		RetentionDays: cfg.Engine.RetentionDaysOrDefault(),
	}, store, log.With(logx.String("comp", "audit")))

	pipeline := delivery.New(deliveryConfig(cfg.Delivery), adapter, store, rec, bus,
		log.With(logx.String("comp", "delivery")))

	policy := allowlistPolicy(cfg.Engine.Allowlist, opts.AllowlistResolver)
	resolver := authz.NewResolver(policy, store)

	gw := gateway.New(resolver, store, rec, adapter, gateway.Messages{
		Unauthorized: cfg.Engine.UnauthorizedMessage,
		Welcome:      cfg.Engine.WelcomeMessage,
		Unsubscribed: cfg.Engine.UnsubscribedMessage,
	}, log.With(logx.String("comp", "gateway")))
	for _, c := range opts.Commands {
		gw.Register(c.Name, c.Description, c.Handle)
	}

	a := &App{
		manager:  manager,
		opts:     opts,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		adapter:  adapter,
		bus:      bus,
		rec:      rec,
		pipeline: pipeline,
		gw:       gw,
	}

	if cfg.Engine.SweepSchedule != "" {
		a.sweeper = audit.NewSweeper(rec, log.With(logx.String("comp", "audit.sweep")))
	}
	if cfg.Admin.Enabled {
		a.adminSrv = admin.New(admin.Config{
			Addr:  cfg.Admin.AddrOrDefault(),
			Token: cfg.Admin.Token,
		}, store, pipeline, rec, bus, policy.Kind, log.With(logx.String("comp", "admin")))
	}

	return a, nil
}

// Start brings everything up. Components keep running until Stop.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, a.log)
	a.updates = make(chan kit.Update, 256)

	a.pipeline.Start(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("gateway", func(c context.Context) {
		a.gw.Run(c, a.updates)
	})

	if a.sweeper != nil {
		if err := a.sweeper.Start(a.manager.Get().Engine.SweepSchedule); err != nil {
			a.log.Warn("retention sweep not scheduled", logx.Err(err))
		}
	}

	if a.adminSrv != nil {
		if err := a.adminSrv.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("config.watch", func(c context.Context) {
		_ = a.manager.Watch(c)
	})
	a.sup.Go("config.apply", a.applyConfigChanges)

	a.log.Info("started")
	return nil
}

// Stop tears the daemon down in reverse dependency order.
func (a *App) Stop(ctx context.Context) {
	if a.adminSrv != nil {
		a.adminSrv.Stop(ctx)
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	// Stop inbound first so no new commands arrive while draining outbound.
	_ = a.adapter.Stop(ctx)
	a.pipeline.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.sup.Wait(wctx)
		cancel()
	}

	_ = a.store.Close()
	a.log.Info("stopped")
	_ = a.logSvc.Close()
}

// Broadcast fans text out to all active subscriptions.
func (a *App) Broadcast(ctx context.Context, text string) (int, error) {
	return a.pipeline.Broadcast(ctx, text, nil)
}

// Notify queues a message for a single chat.
func (a *App) Notify(ctx context.Context, chatID int64, text string) error {
	return a.pipeline.Notify(ctx, chatID, text, nil)
}

// applyConfigChanges consumes reloads and re-applies the hot-swappable
// settings: log level/sinks and delivery tuning. Everything else (token,
// storage, allowlist mode) needs a restart.
func (a *App) applyConfigChanges(ctx context.Context) {
	ch := a.manager.Subscribe(4)
	defer a.manager.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.ConsoleOrDefault(),
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.pipeline.Apply(deliveryConfig(cfg.Delivery))
			a.log.Info("runtime settings reapplied")
		}
	}
}

func deliveryConfig(c config.DeliveryConfig) delivery.Config {
	return delivery.Config{
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		MaxAttempts:   c.MaxAttempts,
		RetryBase:     c.RetryBaseOrDefault(),
		RetryMaxDelay: c.RetryMaxDelayOrDefault(),
	}
}

// allowlistPolicy maps the file-expressible modes, with an injected resolver
// taking precedence.
func allowlistPolicy(c config.AllowlistConfig, resolve authz.ResolveFunc) authz.Policy {
	if resolve != nil {
		return authz.Dynamic(resolve)
	}
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "open":
		return authz.Open()
	case "static":
		return authz.Static(c.Usernames)
	case "store":
		return authz.Store()
	default:
		// Validate() rejects unknown modes; fail closed if one slips through.
		return authz.Static(nil)
	}
}
