package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wppmon/internal/api"
	"github.com/matheus3301/wppmon/internal/bus"
	"github.com/matheus3301/wppmon/internal/cache"
	"github.com/matheus3301/wppmon/internal/config"
	"github.com/matheus3301/wppmon/internal/ingest"
	"github.com/matheus3301/wppmon/internal/lock"
	"github.com/matheus3301/wppmon/internal/logging"
	"github.com/matheus3301/wppmon/internal/status"
	"github.com/matheus3301/wppmon/internal/store"
	"github.com/matheus3301/wppmon/internal/wa"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisPingTimeout = 3 * time.Second

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSeenCache,
			provideAdapter,
			provideController,
			providePipeline,
			provideHandler,
			NewServer,
			NewHeartbeat,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogFile(), logging.Level(cfg.Env))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring storage lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			logger.Error("storage directory already in use",
				zap.Int("pid", held.Owner.PID),
				zap.String("host", held.Owner.Host),
				zap.Time("since", held.Owner.StartedAt),
			)
		}
		return nil, err
	}
	logger.Info("storage lock acquired", zap.String("path", l.Path()), zap.Int("pid", l.Owner().PID))
	return l, nil
}

// provideStore depends on the lock so no other process shares the files.
func provideStore(cfg *config.Config, logger *zap.Logger, _ *lock.Lock) (*store.Store, error) {
	s := store.Open(cfg.DataDir, logger)
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	logger.Info("store initialized", zap.String("dir", cfg.DataDir))
	return s, nil
}

// provideSeenCache returns nil when Redis is not configured or unreachable;
// deduplication then relies on the store alone.
func provideSeenCache(cfg *config.Config, logger *zap.Logger) *cache.RedisCache {
	if !cfg.RedisEnabled() {
		return nil
	}
	rc := cache.NewRedisCache(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), cfg.Redis.TTL.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, seen cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rc.Close()
		return nil
	}
	logger.Info("seen cache enabled", zap.String("addr", cfg.Redis.Addr))
	return rc
}

// provideAdapter returns nil when the transport is disabled or cannot be
// constructed, which puts the controller in simulation mode.
func provideAdapter(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *wa.Adapter {
	if !cfg.Client.Enabled {
		logger.Info("WhatsApp client disabled by configuration")
		return nil
	}
	adapter, err := wa.NewAdapter(context.Background(), wa.Options{
		SessionDB:  cfg.SessionDB,
		DeviceName: cfg.Client.DeviceName,
	}, b, logger)
	if err != nil {
		logger.Error("WhatsApp client unavailable", zap.Error(err))
		return nil
	}
	return adapter
}

func provideController(cfg *config.Config, m *status.Machine, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *status.Controller {
	var client status.Collaborator
	if adapter != nil {
		client = adapter
	}
	return status.NewController(m, client, b, logger, status.Options{
		ReinitDelay:   cfg.Client.ReinitDelay.Duration,
		LogoutTimeout: cfg.Client.LogoutTimeout.Duration,
	})
}

func providePipeline(s *store.Store, c *status.Controller, rc *cache.RedisCache, b *bus.Bus, logger *zap.Logger) *ingest.Pipeline {
	var seen cache.SeenCache
	if rc != nil {
		seen = rc
	}
	return ingest.NewPipeline(s, c, seen, b, logger)
}

func provideHandler(c *status.Controller, p *ingest.Pipeline, s *store.Store, logger *zap.Logger) *api.Handler {
	return api.NewHandler(c, p, s, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	hb *Heartbeat,
	lk *lock.Lock,
	s *store.Store,
	rc *cache.RedisCache,
	adapter *wa.Adapter,
	controller *status.Controller,
	pipeline *ingest.Pipeline,
	b *bus.Bus,
	logger *zap.Logger,
) {
	initCtx, cancelInit := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			controller.SetMessageCount(int64(s.CountMessages()))
			logger.Info("message count reconciled", zap.Int("messages", s.CountMessages()))

			// Both subscribe to the bus before the transport can publish.
			pipeline.Start(context.Background())
			controller.Start(context.Background())

			if adapter != nil {
				handler := wa.NewEventHandler(b, s, adapter, logger)
				adapter.RegisterEventHandler(handler.Handle)
			}

			if err := srv.Start(); err != nil {
				return err
			}
			hb.Start(context.Background())

			// The HTTP surface answers before the transport starts.
			go func() {
				select {
				case <-time.After(cfg.Client.InitDelay.Duration):
				case <-initCtx.Done():
					return
				}
				if err := controller.Initialize(initCtx); err != nil {
					logger.Warn("running without a live WhatsApp connection", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelInit()
			hb.Stop()
			srv.Stop(ctx)
			controller.Stop()
			pipeline.Stop()
			if rc != nil {
				_ = rc.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
