// Package subscriber runs the hub's long-lived bus consumers: registry
// upserts for device and entity announces, history appends for state
// updates, and heartbeat dispatch into the automation engine.
//
// Each consumer is isolated. A payload that fails to decode or a
// handler that errors is counted, logged at warn, and skipped; the
// loop itself exits only when its context is cancelled or the bus
// closes its channel.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JacobSoderblom/krypin/internal/automation"
	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/metrics"
	"github.com/JacobSoderblom/krypin/internal/storage"
)

// Metrics label per consumer.
const (
	subDevice    = "device"
	subEntity    = "entity"
	subState     = "state"
	subHeartbeat = "heartbeat"
)

// Deps are the collaborators the subscribers feed. Metrics may be nil.
type Deps struct {
	Bus     bus.Bus
	Store   storage.Store
	Engine  *automation.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Group tracks the running subscriber goroutines.
type Group struct {
	wg sync.WaitGroup
}

// Wait blocks until every subscriber has exited.
func (g *Group) Wait() {
	g.wg.Wait()
}

// SpawnAll subscribes the four hub consumers and starts a goroutine for
// each. All subscriptions are taken before SpawnAll returns, so a
// message published after a successful return reaches every consumer.
func SpawnAll(ctx context.Context, deps Deps) (*Group, error) {
	s := &subscribers{
		store:   deps.Store,
		engine:  deps.Engine,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	loops := []struct {
		pattern string
		handle  func(context.Context, bus.Message)
	}{
		{contract.TopicDeviceAnnounce, s.deviceMessage},
		{contract.TopicEntityAnnounce, s.entityMessage},
		{contract.TopicStateUpdateAll, s.stateMessage},
		{contract.TopicHeartbeat, s.heartbeatMessage},
	}

	g := &Group{}
	for _, l := range loops {
		ch, err := deps.Bus.Subscribe(ctx, l.pattern)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", l.pattern, err)
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			loop(ctx, ch, l.handle)
		}()
	}
	return g, nil
}

// loop drains one subscription until cancel or channel close.
func loop(ctx context.Context, ch <-chan bus.Message, handle func(context.Context, bus.Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handle(ctx, msg)
		}
	}
}

type subscribers struct {
	store   storage.Store
	engine  *automation.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (s *subscribers) deviceMessage(ctx context.Context, msg bus.Message) {
	defer func() { s.metrics.RecordLatency(subDevice, millisSince(msg.ReceivedAt)) }()

	announce, err := contract.DecodeDeviceAnnounce(msg.Payload)
	if err != nil {
		s.metrics.RecordDecodeError(subDevice)
		s.logger.Warn("bad device announce payload", "error", err)
		return
	}
	if err := s.store.UpsertDevice(ctx, announce.Device()); err != nil {
		s.metrics.RecordHandleError(subDevice)
		s.logger.Warn("device upsert failed", "device", announce.ID, "error", err)
	}
}

func (s *subscribers) entityMessage(ctx context.Context, msg bus.Message) {
	defer func() { s.metrics.RecordLatency(subEntity, millisSince(msg.ReceivedAt)) }()

	announce, err := contract.DecodeEntityAnnounce(msg.Payload)
	if err != nil {
		s.metrics.RecordDecodeError(subEntity)
		s.logger.Warn("bad entity announce payload", "error", err)
		return
	}
	if err := s.store.UpsertEntity(ctx, announce.Entity()); err != nil {
		s.metrics.RecordHandleError(subEntity)
		s.logger.Warn("entity upsert failed", "entity", announce.ID, "error", err)
	}
}

func (s *subscribers) stateMessage(ctx context.Context, msg bus.Message) {
	defer func() { s.metrics.RecordLatency(subState, millisSince(msg.ReceivedAt)) }()

	update, err := contract.DecodeStateUpdate(msg.Payload)
	if err != nil {
		s.metrics.RecordDecodeError(subState)
		s.logger.Warn("bad state update payload", "topic", msg.Topic, "error", err)
		return
	}
	if err := s.store.SetEntityState(ctx, update.EntityState()); err != nil {
		s.metrics.RecordHandleError(subState)
		s.logger.Warn("state set failed", "entity", update.EntityID, "error", err)
	}
}

func (s *subscribers) heartbeatMessage(ctx context.Context, msg bus.Message) {
	defer func() { s.metrics.RecordLatency(subHeartbeat, millisSince(msg.ReceivedAt)) }()

	hb, err := contract.DecodeHeartbeat(msg.Payload)
	if err != nil {
		s.metrics.RecordDecodeError(subHeartbeat)
		s.logger.Warn("bad heartbeat payload", "error", err)
		return
	}
	if err := s.engine.HandleEvent(ctx, automation.HeartbeatEvent(hb.TS)); err != nil {
		s.metrics.RecordHandleError(subHeartbeat)
		s.logger.Warn("automation heartbeat dispatch failed", "error", err)
	}
}

func millisSince(t time.Time) float64 {
	return time.Since(t).Seconds() * 1000
}
