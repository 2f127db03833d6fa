package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// HVACDriver is the device I/O a climate adapter implements.
type HVACDriver interface {
	Describe() capability.HVACDescription
	Apply(ctx context.Context, cmd capability.HVACCommand) (capability.HVACState, error)
}

// HVACRefresher is implemented by climate drivers that can read current
// state on demand.
type HVACRefresher interface {
	Refresh(ctx context.Context) (capability.HVACState, error)
}

// HVACComponent runs one climate entity.
type HVACComponent struct {
	rt     *Context
	device DeviceMeta
	entity EntityMeta
	driver HVACDriver
}

func NewHVAC(rt *Context, device DeviceMeta, entity EntityMeta, driver HVACDriver) *HVACComponent {
	return &HVACComponent{rt: rt, device: device, entity: entity, driver: driver}
}

// Run announces and then serves commands until ctx is cancelled or the
// bus closes. Command errors are logged and the loop continues.
func (c *HVACComponent) Run(ctx context.Context) error {
	msgs, err := c.rt.Commands(ctx, c.entity.ID)
	if err != nil {
		return err
	}
	if err := c.rt.Announce(ctx, c.device, c.entity, model.DomainClimate); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handleCommand(ctx, msg.Payload); err != nil {
				c.rt.logger.Warn("hvac command failed", "entity", c.entity.ID, "error", err)
			}
		}
	}
}

func (c *HVACComponent) handleCommand(ctx context.Context, payload []byte) error {
	cmd, err := capability.ParseHVACCommand(payload)
	if err != nil {
		return err
	}
	if err := c.driver.Describe().Validate(cmd); err != nil {
		return err
	}
	state, err := c.driver.Apply(ctx, cmd)
	if err != nil {
		return err
	}
	return c.PublishState(ctx, state)
}

// PublishState reports a climate state on the entity's state topic.
func (c *HVACComponent) PublishState(ctx context.Context, state capability.HVACState) error {
	return c.rt.PublishUpdate(ctx, hvacUpdate(c.entity.ID, state))
}

// Refresh reads current state from the driver and publishes it.
func (c *HVACComponent) Refresh(ctx context.Context) error {
	r, ok := c.driver.(HVACRefresher)
	if !ok {
		return ErrRefreshUnsupported
	}
	state, err := r.Refresh(ctx)
	if err != nil {
		return err
	}
	return c.PublishState(ctx, state)
}

// hvacUpdate encodes the mode as the value; temperatures and fan mode
// ride along as attributes.
func hvacUpdate(entityID uuid.UUID, st capability.HVACState) contract.StateUpdate {
	attrs := map[string]any{}
	if st.TargetTemperatureC != nil {
		attrs["target_temperature_c"] = *st.TargetTemperatureC
	}
	if st.AmbientTemperatureC != nil {
		attrs["ambient_temperature_c"] = *st.AmbientTemperatureC
	}
	if st.FanMode != nil {
		attrs["fan_mode"] = string(*st.FanMode)
	}
	return contract.StateUpdate{
		EntityID:   entityID,
		Value:      string(st.Mode),
		Attributes: attrs,
		TS:         time.Now().UTC(),
		Source:     model.StrPtr("adapter:" + string(model.DomainClimate)),
	}
}
