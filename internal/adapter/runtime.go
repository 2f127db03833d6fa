// Package adapter is the SDK for processes that front physical devices.
// An adapter announces its devices and entities on the bus, listens for
// commands addressed to each entity, and reports state updates. The
// per-domain components wire a Driver to that loop so adapter authors
// only implement the device I/O.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// ErrRefreshUnsupported is returned by a component's Refresh when its
// driver cannot read state on demand.
var ErrRefreshUnsupported = errors.New("refresh not implemented")

// Context is an adapter's attachment to the bus. It standardizes how
// components announce, publish telemetry, and receive commands.
type Context struct {
	bus    bus.Bus
	logger *slog.Logger
}

// NewContext wraps a bus for adapter use. A nil logger falls back to
// slog.Default().
func NewContext(b bus.Bus, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{bus: b, logger: logger}
}

// Bus exposes the underlying transport for adapters that need raw
// access beyond the component loops.
func (c *Context) Bus() bus.Bus { return c.bus }

// Announce publishes the device announce followed by the entity
// announce on their canonical topics.
func (c *Context) Announce(ctx context.Context, device DeviceMeta, entity EntityMeta, domain model.EntityDomain) error {
	announce := contract.DeviceAnnounce{
		ID:           device.ID,
		Name:         device.Name,
		Adapter:      device.Adapter,
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
		SWVersion:    device.SWVersion,
		HWVersion:    device.HWVersion,
		Area:         device.Area,
		Metadata:     device.MetadataMap(),
	}
	if err := c.publish(ctx, contract.TopicDeviceAnnounce, announce); err != nil {
		return fmt.Errorf("announce device: %w", err)
	}

	entityAnnounce := contract.EntityAnnounce{
		ID:         entity.ID,
		DeviceID:   device.ID,
		Name:       entity.Name,
		Domain:     domain,
		Icon:       entity.Icon,
		Key:        entity.Key,
		Attributes: entity.AttributesMap(),
	}
	if err := c.publish(ctx, contract.TopicEntityAnnounce, entityAnnounce); err != nil {
		return fmt.Errorf("announce entity: %w", err)
	}
	return nil
}

// PublishUpdate publishes a state update on the entity's state topic.
func (c *Context) PublishUpdate(ctx context.Context, update contract.StateUpdate) error {
	topic := contract.StateUpdateTopic(update.EntityID)
	if err := c.publish(ctx, topic, update); err != nil {
		return fmt.Errorf("publish state update: %w", err)
	}
	return nil
}

// Commands subscribes to the entity's command topic. The channel closes
// when ctx is cancelled or the bus shuts down.
func (c *Context) Commands(ctx context.Context, entityID uuid.UUID) (<-chan bus.Message, error) {
	return c.bus.Subscribe(ctx, contract.CommandTopic(entityID))
}

func (c *Context) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, bus.Message{Topic: topic, Payload: payload})
}
