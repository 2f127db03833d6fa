package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// BinarySensorDriver is the device I/O a binary sensor adapter
// implements. Updates yields raw readings; the component applies the
// description's inversion before publishing.
type BinarySensorDriver interface {
	Describe() capability.BinarySensorDescription
	CurrentState(ctx context.Context) (capability.BinarySensorState, error)
	Updates() <-chan bool
}

// BinarySensorComponent runs one binary sensor entity. Sensors take no
// commands; the component publishes the initial reading and then
// forwards driver updates.
type BinarySensorComponent struct {
	rt     *Context
	device DeviceMeta
	entity EntityMeta
	driver BinarySensorDriver
}

func NewBinarySensor(rt *Context, device DeviceMeta, entity EntityMeta, driver BinarySensorDriver) *BinarySensorComponent {
	return &BinarySensorComponent{rt: rt, device: device, entity: entity, driver: driver}
}

// Run announces, publishes the current reading, and forwards updates
// until ctx is cancelled or the driver closes its channel. Publish
// errors are logged and the loop continues.
func (c *BinarySensorComponent) Run(ctx context.Context) error {
	if err := c.rt.Announce(ctx, c.device, c.entity, model.DomainBinarySensor); err != nil {
		return err
	}

	initial, err := c.driver.CurrentState(ctx)
	if err != nil {
		return err
	}
	if err := c.PublishState(ctx, initial); err != nil {
		return err
	}

	updates := c.driver.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-updates:
			if !ok {
				return nil
			}
			state := capability.BinarySensorState{On: raw}
			if err := c.PublishState(ctx, state); err != nil {
				c.rt.logger.Warn("binary sensor publish failed", "entity", c.entity.ID, "error", err)
			}
		}
	}
}

// PublishState reports a reading on the entity's state topic, applying
// the description's inversion to the raw value.
func (c *BinarySensorComponent) PublishState(ctx context.Context, state capability.BinarySensorState) error {
	update := binarySensorUpdate(c.entity.ID, c.driver.Describe(), state)
	return c.rt.PublishUpdate(ctx, update)
}

func binarySensorUpdate(entityID uuid.UUID, desc capability.BinarySensorDescription, st capability.BinarySensorState) contract.StateUpdate {
	attrs := map[string]any{}
	if desc.DeviceClass != nil {
		attrs["device_class"] = string(*desc.DeviceClass)
	}
	if desc.Inverted {
		attrs["inverted"] = true
	}

	effective := st.On != desc.Inverted

	return contract.StateUpdate{
		EntityID:   entityID,
		Value:      effective,
		Attributes: attrs,
		TS:         time.Now().UTC(),
		Source:     model.StrPtr("adapter:" + string(model.DomainBinarySensor)),
	}
}
