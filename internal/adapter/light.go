package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// LightDriver is the device I/O a light adapter implements. Apply
// returns the state the device settled on after the command.
type LightDriver interface {
	Describe() capability.LightDescription
	Apply(ctx context.Context, cmd capability.LightCommand) (capability.LightState, error)
}

// LightRefresher is implemented by light drivers that can read current
// state on demand.
type LightRefresher interface {
	Refresh(ctx context.Context) (capability.LightState, error)
}

// LightComponent runs one light entity: announce device and entity,
// consume the entity's command topic, report resulting states.
type LightComponent struct {
	rt     *Context
	device DeviceMeta
	entity EntityMeta
	driver LightDriver
}

func NewLight(rt *Context, device DeviceMeta, entity EntityMeta, driver LightDriver) *LightComponent {
	return &LightComponent{rt: rt, device: device, entity: entity, driver: driver}
}

// Run announces and then serves commands until ctx is cancelled or the
// bus closes. Decode, validate, and apply errors are logged and the
// loop continues. The command subscription is opened before the
// announces so a consumer reacting to the entity announce cannot
// command a deaf component.
func (c *LightComponent) Run(ctx context.Context) error {
	msgs, err := c.rt.Commands(ctx, c.entity.ID)
	if err != nil {
		return err
	}
	if err := c.rt.Announce(ctx, c.device, c.entity, model.DomainLight); err != nil {
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
				c.rt.logger.Warn("light command failed", "entity", c.entity.ID, "error", err)
			}
		}
	}
}

func (c *LightComponent) handleCommand(ctx context.Context, payload []byte) error {
	cmd, err := capability.ParseLightCommand(payload)
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

// PublishState reports a light state on the entity's state topic.
func (c *LightComponent) PublishState(ctx context.Context, state capability.LightState) error {
	return c.rt.PublishUpdate(ctx, lightUpdate(c.entity.ID, state))
}

// Refresh reads current state from the driver and publishes it.
func (c *LightComponent) Refresh(ctx context.Context) error {
	r, ok := c.driver.(LightRefresher)
	if !ok {
		return ErrRefreshUnsupported
	}
	state, err := r.Refresh(ctx)
	if err != nil {
		return err
	}
	return c.PublishState(ctx, state)
}

func lightUpdate(entityID uuid.UUID, st capability.LightState) contract.StateUpdate {
	attrs := map[string]any{}
	if st.Brightness != nil {
		attrs["brightness"] = *st.Brightness
	}
	if st.Mireds != nil {
		attrs["mireds"] = *st.Mireds
	} else if st.RGB != nil {
		attrs["rgb"] = []any{st.RGB.R, st.RGB.G, st.RGB.B}
	}
	return contract.StateUpdate{
		EntityID:   entityID,
		Value:      st.On,
		Attributes: attrs,
		TS:         time.Now().UTC(),
		Source:     model.StrPtr("adapter:" + string(model.DomainLight)),
	}
}
