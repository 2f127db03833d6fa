package adapter

import (
	"context"
	"sync"

	"github.com/JacobSoderblom/krypin/internal/capability"
)

// Mock drivers back the demo wiring and the component tests with
// in-memory device behavior. Commands mutate held state the way a
// well-behaved device would.

// MockLight is an in-memory light.
type MockLight struct {
	mu    sync.Mutex
	desc  capability.LightDescription
	state capability.LightState
}

func NewMockLight(desc capability.LightDescription) *MockLight {
	return &MockLight{desc: desc}
}

func (m *MockLight) Describe() capability.LightDescription { return m.desc }

func (m *MockLight) Apply(_ context.Context, cmd capability.LightCommand) (capability.LightState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c := cmd.(type) {
	case capability.LightSetPower:
		m.state.On = c.On
	case capability.LightToggle:
		m.state.On = !m.state.On
	case capability.LightSetBrightness:
		level := c.Level
		m.state.Brightness = &level
	case capability.LightSetColorTemp:
		mireds := c.Mireds
		m.state.Mireds = &mireds
		m.state.RGB = nil
	case capability.LightSetRGB:
		rgb := c.RGB
		m.state.RGB = &rgb
		m.state.Mireds = nil
	}
	return m.state, nil
}

func (m *MockLight) Refresh(context.Context) (capability.LightState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// MockSwitch is an in-memory switch. When the description includes a
// power meter it reports a fixed draw while on.
type MockSwitch struct {
	mu    sync.Mutex
	desc  capability.SwitchDescription
	state capability.SwitchState
}

func NewMockSwitch(desc capability.SwitchDescription) *MockSwitch {
	return &MockSwitch{desc: desc}
}

func (m *MockSwitch) Describe() capability.SwitchDescription { return m.desc }

func (m *MockSwitch) Apply(_ context.Context, cmd capability.SwitchCommand) (capability.SwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c := cmd.(type) {
	case capability.SwitchSet:
		m.state.On = c.On
	case capability.SwitchToggle:
		m.state.On = !m.state.On
	}
	if m.desc.Features.Has(capability.FeatureSwitchPowerMeter) {
		w := 0.0
		if m.state.On {
			w = 12.5
		}
		m.state.PowerW = &w
	}
	return m.state, nil
}

func (m *MockSwitch) Refresh(context.Context) (capability.SwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// MockHVAC is an in-memory climate unit.
type MockHVAC struct {
	mu    sync.Mutex
	desc  capability.HVACDescription
	state capability.HVACState
}

func NewMockHVAC(desc capability.HVACDescription) *MockHVAC {
	return &MockHVAC{desc: desc, state: capability.HVACState{Mode: capability.HVACModeOff}}
}

func (m *MockHVAC) Describe() capability.HVACDescription { return m.desc }

func (m *MockHVAC) Apply(_ context.Context, cmd capability.HVACCommand) (capability.HVACState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c := cmd.(type) {
	case capability.HVACSetMode:
		m.state.Mode = c.Mode
	case capability.HVACSetTargetTemperature:
		t := c.TemperatureC
		m.state.TargetTemperatureC = &t
	case capability.HVACSetFanMode:
		f := c.FanMode
		m.state.FanMode = &f
	}
	return m.state, nil
}

func (m *MockHVAC) Refresh(context.Context) (capability.HVACState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// MockVacuum is an in-memory robot vacuum that starts docked with a
// full battery.
type MockVacuum struct {
	mu    sync.Mutex
	desc  capability.VacuumDescription
	state capability.VacuumState
}

func NewMockVacuum(desc capability.VacuumDescription) *MockVacuum {
	battery := uint8(100)
	return &MockVacuum{
		desc:  desc,
		state: capability.VacuumState{Status: capability.VacuumDocked, BatteryLevel: &battery},
	}
}

func (m *MockVacuum) Describe() capability.VacuumDescription { return m.desc }

func (m *MockVacuum) Apply(_ context.Context, cmd capability.VacuumCommand) (capability.VacuumState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.(type) {
	case capability.VacuumStart, capability.VacuumSpotClean:
		m.state.Status = capability.VacuumCleaning
	case capability.VacuumPause:
		m.state.Status = capability.VacuumPaused
	case capability.VacuumStop:
		m.state.Status = capability.VacuumIdle
	case capability.VacuumDock:
		m.state.Status = capability.VacuumDocked
	case capability.VacuumLocate:
		// Locate chirps the device; status is unchanged.
	}
	return m.state, nil
}

func (m *MockVacuum) Refresh(context.Context) (capability.VacuumState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// MockBinarySensor is a channel-fed binary sensor. Emit queues a raw
// reading for the component and updates the current state.
type MockBinarySensor struct {
	mu      sync.Mutex
	desc    capability.BinarySensorDescription
	raw     bool
	updates chan bool
}

func NewMockBinarySensor(desc capability.BinarySensorDescription) *MockBinarySensor {
	return &MockBinarySensor{desc: desc, updates: make(chan bool, 16)}
}

func (m *MockBinarySensor) Describe() capability.BinarySensorDescription { return m.desc }

func (m *MockBinarySensor) CurrentState(context.Context) (capability.BinarySensorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capability.BinarySensorState{On: m.raw}, nil
}

func (m *MockBinarySensor) Updates() <-chan bool { return m.updates }

// Emit records a raw reading. It blocks if the component has fallen 16
// readings behind.
func (m *MockBinarySensor) Emit(raw bool) {
	m.mu.Lock()
	m.raw = raw
	m.mu.Unlock()
	m.updates <- raw
}

// Close ends the update stream; the component's Run returns after
// draining.
func (m *MockBinarySensor) Close() {
	close(m.updates)
}
