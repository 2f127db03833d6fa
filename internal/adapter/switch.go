package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// SwitchDriver is the device I/O a switch adapter implements.
type SwitchDriver interface {
	Describe() capability.SwitchDescription
	Apply(ctx context.Context, cmd capability.SwitchCommand) (capability.SwitchState, error)
}

// SwitchRefresher is implemented by switch drivers that can read
// current state on demand.
type SwitchRefresher interface {
	Refresh(ctx context.Context) (capability.SwitchState, error)
}

// SwitchComponent runs one switch entity.
type SwitchComponent struct {
	rt     *Context
	device DeviceMeta
	entity EntityMeta
	driver SwitchDriver
}

func NewSwitch(rt *Context, device DeviceMeta, entity EntityMeta, driver SwitchDriver) *SwitchComponent {
	return &SwitchComponent{rt: rt, device: device, entity: entity, driver: driver}
}

// Run announces and then serves commands until ctx is cancelled or the
// bus closes. Command errors are logged and the loop continues.
func (c *SwitchComponent) Run(ctx context.Context) error {
	msgs, err := c.rt.Commands(ctx, c.entity.ID)
	if err != nil {
		return err
	}
	if err := c.rt.Announce(ctx, c.device, c.entity, model.DomainSwitch); err != nil {
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
				c.rt.logger.Warn("switch command failed", "entity", c.entity.ID, "error", err)
			}
		}
	}
}

func (c *SwitchComponent) handleCommand(ctx context.Context, payload []byte) error {
	cmd, err := capability.ParseSwitchCommand(payload)
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

// PublishState reports a switch state on the entity's state topic.
func (c *SwitchComponent) PublishState(ctx context.Context, state capability.SwitchState) error {
	return c.rt.PublishUpdate(ctx, switchUpdate(c.entity.ID, state))
}

// Refresh reads current state from the driver and publishes it.
func (c *SwitchComponent) Refresh(ctx context.Context) error {
	r, ok := c.driver.(SwitchRefresher)
	if !ok {
		return ErrRefreshUnsupported
	}
	state, err := r.Refresh(ctx)
	if err != nil {
		return err
	}
	return c.PublishState(ctx, state)
}

func switchUpdate(entityID uuid.UUID, st capability.SwitchState) contract.StateUpdate {
	attrs := map[string]any{}
	if st.PowerW != nil {
		attrs["power_w"] = *st.PowerW
	}
	return contract.StateUpdate{
		EntityID:   entityID,
		Value:      st.On,
		Attributes: attrs,
		TS:         time.Now().UTC(),
		Source:     model.StrPtr("adapter:" + string(model.DomainSwitch)),
	}
}
