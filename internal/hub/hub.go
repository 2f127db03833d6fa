// Package hub assembles a running krypin instance from its
// configuration: the bus, the registry store, the automation engine,
// the background consumers, and the HTTP server. cmd/hubd drives it;
// tests drive it directly with an in-process config.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JacobSoderblom/krypin/internal/api"
	"github.com/JacobSoderblom/krypin/internal/automation"
	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/config"
	"github.com/JacobSoderblom/krypin/internal/heartbeat"
	"github.com/JacobSoderblom/krypin/internal/metrics"
	"github.com/JacobSoderblom/krypin/internal/scheduler"
	"github.com/JacobSoderblom/krypin/internal/storage"
	"github.com/JacobSoderblom/krypin/internal/subscriber"
)

// Hub owns every long-lived component of one running instance. The
// exported fields are wired by New and stay valid until Close.
type Hub struct {
	Bus       bus.Bus
	Store     storage.Store
	Engine    *automation.Engine
	Scheduler *scheduler.Scheduler
	Server    *api.Server
	Metrics   *metrics.Metrics

	cfg    *config.Config
	logger *slog.Logger

	subs    *subscriber.Group
	closers []func() error
}

// New builds the component graph for cfg without starting anything.
// ctx bounds the connection attempts of the mqtt bus and the postgres
// store. A nil logger falls back to slog.Default().
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		Metrics: metrics.New(),
	}

	switch cfg.Bus.Kind {
	case config.BusInMem:
		h.Bus = bus.NewMemory(h.Metrics)
	case config.BusMQTT:
		b, err := bus.NewMQTT(ctx, bus.MQTTOptions{
			Host:     cfg.Bus.MQTT.Host,
			Port:     cfg.Bus.MQTT.Port,
			ClientID: cfg.Bus.MQTT.ClientID,
			Username: cfg.Bus.MQTT.Username,
			Password: cfg.Bus.MQTT.Password,
		}, h.Metrics, logger.With("component", "bus"))
		if err != nil {
			return nil, err
		}
		h.Bus = b
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Bus.Kind)
	}

	switch cfg.Storage.Kind {
	case config.StorageInMem:
		h.Store = storage.NewMemory()
	case config.StoragePostgres:
		if cfg.Storage.Postgres.URL == "" {
			h.closeBuilt()
			return nil, errors.New("KRYPIN_DATABASE_URL is required for postgres storage")
		}
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.Postgres.URL)
		if err != nil {
			h.closeBuilt()
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		h.Store = pg
		h.closers = append(h.closers, pg.Close)
	default:
		h.closeBuilt()
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}

	var defs automation.Store
	switch cfg.Automations.Store {
	case config.AutomationStoreInMem:
		defs = automation.NewMemoryStore()
	case config.AutomationStoreSQLite:
		s, err := automation.NewSQLiteStore(cfg.Automations.SQLitePath)
		if err != nil {
			h.closeBuilt()
			return nil, fmt.Errorf("open automation store: %w", err)
		}
		defs = s
		h.closers = append(h.closers, s.Close)
	default:
		h.closeBuilt()
		return nil, fmt.Errorf("unknown automations store %q", cfg.Automations.Store)
	}

	h.Engine = automation.NewEngine(defs, h.Store, h.Bus, logger.With("component", "automation"), h.Metrics)
	h.Scheduler = scheduler.New(h.Engine, logger.With("component", "scheduler"))

	h.Server = api.NewServer(cfg.Bind, h.Store, h.Bus, h.Engine, logger.With("component", "api"))
	h.Server.SetTokens(cfg.Auth.Tokens)
	h.Server.SetMetrics(h.Metrics)
	h.Server.SetRescheduler(h.Scheduler)

	return h, nil
}

// Start spawns the background components: the four bus consumers, the
// heartbeat producer, and the cron scheduler. They run until ctx is
// cancelled. The HTTP server is not started here; the caller owns its
// lifecycle via h.Server.
func (h *Hub) Start(ctx context.Context) error {
	subs, err := subscriber.SpawnAll(ctx, subscriber.Deps{
		Bus:     h.Bus,
		Store:   h.Store,
		Engine:  h.Engine,
		Metrics: h.Metrics,
		Logger:  h.logger.With("component", "subscriber"),
	})
	if err != nil {
		return fmt.Errorf("spawn subscribers: %w", err)
	}
	h.subs = subs

	heartbeat.Spawn(ctx, h.Bus, time.Duration(h.cfg.Heartbeat.Interval), h.logger.With("component", "heartbeat"))

	if err := h.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Close releases everything New opened. The context handed to Start
// should already be cancelled; Close then stops the scheduler, closes
// the bus (which ends the consumer loops), waits for the consumers,
// and closes the database-backed stores.
func (h *Hub) Close() error {
	if h.Scheduler != nil {
		h.Scheduler.Stop()
	}

	var firstErr error
	if h.Bus != nil {
		if err := h.Bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h.subs != nil {
		h.subs.Wait()
	}
	for _, closeFn := range h.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// closeBuilt unwinds a partially constructed Hub when New fails.
func (h *Hub) closeBuilt() {
	if h.Bus != nil {
		if err := h.Bus.Close(); err != nil {
			h.logger.Warn("bus close failed", "error", err)
		}
	}
	for _, closeFn := range h.closers {
		if err := closeFn(); err != nil {
			h.logger.Warn("store close failed", "error", err)
		}
	}
}
