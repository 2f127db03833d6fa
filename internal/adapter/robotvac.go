package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// VacuumDriver is the device I/O a robot vacuum adapter implements.
type VacuumDriver interface {
	Describe() capability.VacuumDescription
	Apply(ctx context.Context, cmd capability.VacuumCommand) (capability.VacuumState, error)
}

// VacuumRefresher is implemented by vacuum drivers that can read
// current state on demand.
type VacuumRefresher interface {
	Refresh(ctx context.Context) (capability.VacuumState, error)
}

// VacuumComponent runs one robot vacuum entity.
type VacuumComponent struct {
	rt     *Context
	device DeviceMeta
	entity EntityMeta
	driver VacuumDriver
}

func NewVacuum(rt *Context, device DeviceMeta, entity EntityMeta, driver VacuumDriver) *VacuumComponent {
	return &VacuumComponent{rt: rt, device: device, entity: entity, driver: driver}
}

// Run announces and then serves commands until ctx is cancelled or the
// bus closes. Command errors are logged and the loop continues.
func (c *VacuumComponent) Run(ctx context.Context) error {
	msgs, err := c.rt.Commands(ctx, c.entity.ID)
	if err != nil {
		return err
	}
	if err := c.rt.Announce(ctx, c.device, c.entity, model.DomainRobotVacuum); err != nil {
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
				c.rt.logger.Warn("vacuum command failed", "entity", c.entity.ID, "error", err)
			}
		}
	}
}

func (c *VacuumComponent) handleCommand(ctx context.Context, payload []byte) error {
	cmd, err := capability.ParseVacuumCommand(payload)
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

// PublishState reports a vacuum state on the entity's state topic.
func (c *VacuumComponent) PublishState(ctx context.Context, state capability.VacuumState) error {
	return c.rt.PublishUpdate(ctx, vacuumUpdate(c.entity.ID, state))
}

// Refresh reads current state from the driver and publishes it.
func (c *VacuumComponent) Refresh(ctx context.Context) error {
	r, ok := c.driver.(VacuumRefresher)
	if !ok {
		return ErrRefreshUnsupported
	}
	state, err := r.Refresh(ctx)
	if err != nil {
		return err
	}
	return c.PublishState(ctx, state)
}

func vacuumUpdate(entityID uuid.UUID, st capability.VacuumState) contract.StateUpdate {
	attrs := map[string]any{}
	if st.BatteryLevel != nil {
		attrs["battery"] = *st.BatteryLevel
	}
	if st.FanPower != nil {
		attrs["fan_power"] = *st.FanPower
	}
	return contract.StateUpdate{
		EntityID:   entityID,
		Value:      string(st.Status),
		Attributes: attrs,
		TS:         time.Now().UTC(),
		Source:     model.StrPtr("adapter:" + string(model.DomainRobotVacuum)),
	}
}
