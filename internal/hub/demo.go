package hub

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/adapter"
	"github.com/JacobSoderblom/krypin/internal/automation"
	"github.com/JacobSoderblom/krypin/internal/capability"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// demoRunner is the loop every adapter component exposes.
type demoRunner interface {
	Run(ctx context.Context) error
}

// Demo holds the handles StartDemo created, so the caller can address
// the mock entities and feed the motion sensor.
type Demo struct {
	Area       uuid.UUID
	Lamp       uuid.UUID
	Plug       uuid.UUID
	Thermostat uuid.UUID
	Vacuum     uuid.UUID
	Motion     uuid.UUID

	// MotionSensor is the channel-fed driver behind the Motion entity.
	MotionSensor *adapter.MockBinarySensor
}

// StartDemo announces five mock devices on the bus, serves their
// command topics until ctx is cancelled, and seeds the sample
// automations when none are stored yet. It needs the consumers from
// Start already running so the announces land in the registry.
func (h *Hub) StartDemo(ctx context.Context) (*Demo, error) {
	logger := h.logger.With("component", "demo")
	rt := adapter.NewContext(h.Bus, logger)

	demo := &Demo{
		Area:       uuid.New(),
		Lamp:       uuid.New(),
		Plug:       uuid.New(),
		Thermostat: uuid.New(),
		Vacuum:     uuid.New(),
		Motion:     uuid.New(),
	}

	if err := h.Store.UpsertArea(ctx, model.Area{ID: demo.Area, Name: "Living Room"}); err != nil {
		return nil, fmt.Errorf("seed demo area: %w", err)
	}

	lampFeatures := capability.FeatureLightOnOff | capability.FeatureLightDimmable | capability.FeatureLightColorTemp
	lamp := adapter.NewLight(rt,
		adapter.DeviceMeta{
			ID:      uuid.New(),
			Name:    "Demo Lamp",
			Adapter: "demo",
			Model:   model.StrPtr("bulb-ct"),
			Area:    &demo.Area,
			Zigbee: &adapter.ZigbeeInfo{
				IEEEAddress:        "0x00158d0001a2b3c4",
				InterviewCompleted: true,
				PowerSource:        "mains",
				Endpoints:          []int{1},
			},
		},
		adapter.EntityMeta{
			ID:   demo.Lamp,
			Name: "Demo Lamp",
			Key:  model.StrPtr("demo:light:1"),
			Attributes: map[string]any{
				"features":   uint64(lampFeatures),
				"min_mireds": 153,
				"max_mireds": 500,
			},
		},
		adapter.NewMockLight(capability.LightDescription{EntityID: demo.Lamp, Features: lampFeatures}),
	)

	plugFeatures := capability.FeatureSwitchOnOff | capability.FeatureSwitchToggle | capability.FeatureSwitchPowerMeter
	plug := adapter.NewSwitch(rt,
		adapter.DeviceMeta{
			ID:      uuid.New(),
			Name:    "Demo Plug",
			Adapter: "demo",
			Model:   model.StrPtr("plug-pm"),
			Area:    &demo.Area,
		},
		adapter.EntityMeta{
			ID:         demo.Plug,
			Name:       "Demo Plug",
			Key:        model.StrPtr("demo:switch:1"),
			Attributes: map[string]any{"features": uint64(plugFeatures)},
		},
		adapter.NewMockSwitch(capability.SwitchDescription{EntityID: demo.Plug, Features: plugFeatures}),
	)

	minTemp, maxTemp := 5.0, 30.0
	hvacFeatures := capability.FeatureHVACOnOff | capability.FeatureHVACModes | capability.FeatureHVACTargetTemperature
	thermostat := adapter.NewHVAC(rt,
		adapter.DeviceMeta{
			ID:      uuid.New(),
			Name:    "Demo Thermostat",
			Adapter: "demo",
			Area:    &demo.Area,
		},
		adapter.EntityMeta{
			ID:   demo.Thermostat,
			Name: "Demo Thermostat",
			Key:  model.StrPtr("demo:climate:1"),
			Attributes: map[string]any{
				"features":   uint64(hvacFeatures),
				"min_temp_c": minTemp,
				"max_temp_c": maxTemp,
			},
		},
		adapter.NewMockHVAC(capability.HVACDescription{
			EntityID: demo.Thermostat,
			Features: hvacFeatures,
			MinTempC: &minTemp,
			MaxTempC: &maxTemp,
		}),
	)

	vacuumFeatures := capability.FeatureVacuumStart | capability.FeatureVacuumPause | capability.FeatureVacuumStop |
		capability.FeatureVacuumDock | capability.FeatureVacuumLocate | capability.FeatureVacuumSpot
	vacuum := adapter.NewVacuum(rt,
		adapter.DeviceMeta{
			ID:      uuid.New(),
			Name:    "Demo Vacuum",
			Adapter: "demo",
			Area:    &demo.Area,
		},
		adapter.EntityMeta{
			ID:         demo.Vacuum,
			Name:       "Demo Vacuum",
			Key:        model.StrPtr("demo:robot_vacuum:1"),
			Attributes: map[string]any{"features": uint64(vacuumFeatures)},
		},
		adapter.NewMockVacuum(capability.VacuumDescription{EntityID: demo.Vacuum, Features: vacuumFeatures}),
	)

	demo.MotionSensor = adapter.NewMockBinarySensor(capability.BinarySensorDescription{EntityID: demo.Motion})
	motion := adapter.NewBinarySensor(rt,
		adapter.DeviceMeta{
			ID:      uuid.New(),
			Name:    "Demo Motion Sensor",
			Adapter: "demo",
			Area:    &demo.Area,
		},
		adapter.EntityMeta{
			ID:         demo.Motion,
			Name:       "Demo Motion",
			Key:        model.StrPtr("demo:binary_sensor:1"),
			Attributes: map[string]any{"device_class": "motion"},
		},
		demo.MotionSensor,
	)

	for name, component := range map[string]demoRunner{
		"lamp":       lamp,
		"plug":       plug,
		"thermostat": thermostat,
		"vacuum":     vacuum,
		"motion":     motion,
	} {
		go func() {
			if err := component.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("demo component stopped", "name", name, "error", err)
			}
		}()
	}

	if err := h.seedDemoAutomations(ctx, demo); err != nil {
		return nil, err
	}

	logger.Info("demo devices announced",
		"area", demo.Area,
		"lamp", demo.Lamp,
		"plug", demo.Plug,
		"thermostat", demo.Thermostat,
		"vacuum", demo.Vacuum,
		"motion", demo.Motion,
	)
	return demo, nil
}

// seedDemoAutomations creates the sample rules once. A store that
// already has automations is left alone so restarts against a sqlite
// store do not pile up duplicates.
func (h *Hub) seedDemoAutomations(ctx context.Context, demo *Demo) error {
	defs, err := h.Engine.List(ctx)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	if len(defs) > 0 {
		return nil
	}

	if _, err := h.Engine.Create(ctx, automation.MotionLight(demo.Motion, demo.Lamp)); err != nil {
		return fmt.Errorf("seed motion light automation: %w", err)
	}
	if _, err := h.Engine.Create(ctx, automation.ThermostatSchedule(demo.Thermostat, 21.0, "0 7 * * *")); err != nil {
		return fmt.Errorf("seed thermostat automation: %w", err)
	}
	if err := h.Scheduler.Sync(ctx); err != nil {
		h.logger.Warn("scheduler sync failed", "error", err)
	}
	return nil
}
