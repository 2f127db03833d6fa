package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// Switch feature bits.
const (
	FeatureSwitchOnOff Features = 1 << iota
	FeatureSwitchToggle
	FeatureSwitchStateless
	FeatureSwitchPowerMeter

	switchFeatureMask = FeatureSwitchOnOff | FeatureSwitchToggle | FeatureSwitchStateless | FeatureSwitchPowerMeter
)

// SwitchDescription is what a switch supports, derived from its entity
// attributes.
type SwitchDescription struct {
	EntityID uuid.UUID
	Features Features
}

// SwitchState is a switch's typed state.
type SwitchState struct {
	On     bool
	PowerW *float64
}

// SwitchCommand is one of the typed switch commands.
type SwitchCommand interface {
	isSwitchCommand()
	Envelope() contract.CommandSet
}

type SwitchSet struct{ On bool }

type SwitchToggle struct{}

func (SwitchSet) isSwitchCommand()    {}
func (SwitchToggle) isSwitchCommand() {}

func (c SwitchSet) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set", Value: map[string]any{"on": c.On}}
}

func (SwitchToggle) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "toggle"}
}

// DescribeSwitch derives a switch's capabilities from its attributes.
func DescribeSwitch(e model.Entity) (SwitchDescription, error) {
	if e.Domain != model.DomainSwitch {
		return SwitchDescription{}, errors.New("not a switch entity")
	}

	features := FeatureSwitchOnOff
	if bits, ok := attrUint(e.Attributes["features"]); ok {
		features = Features(bits) & switchFeatureMask
	} else {
		if attrBool(e.Attributes["toggle"]) {
			features |= FeatureSwitchToggle
		}
		if attrBool(e.Attributes["stateless"]) {
			features |= FeatureSwitchStateless
		}
		if attrBool(e.Attributes["power_meter"]) {
			features |= FeatureSwitchPowerMeter
		}
	}

	return SwitchDescription{EntityID: e.ID, Features: features}, nil
}

// Validate rejects commands the switch's feature set does not cover.
func (d SwitchDescription) Validate(cmd SwitchCommand) error {
	switch cmd.(type) {
	case SwitchSet:
		if !d.Features.Has(FeatureSwitchOnOff) {
			return ErrOnOffUnsupported
		}
	case SwitchToggle:
		if !d.Features.Has(FeatureSwitchToggle) {
			return ErrToggleUnsupported
		}
	}
	return nil
}

// SwitchStateFrom lifts a persisted value and attributes into a typed
// switch state.
func SwitchStateFrom(value any, attrs map[string]any) SwitchState {
	st := SwitchState{On: valueIsOn(value)}
	if w, ok := attrFloat(attrs["power_w"]); ok {
		st.PowerW = &w
	}
	return st
}

// ParseSwitchCommand reads a command payload leniently. The on flag may
// sit at the top level, inside value, or be the value itself.
func ParseSwitchCommand(payload []byte) (SwitchCommand, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse command json: %w", err)
	}
	envelope, _ := raw.(map[string]any)

	action := "set"
	if s, ok := attrString(envelope["action"]); ok {
		action = s
	}
	value := envelope["value"]

	if action == "toggle" {
		return SwitchToggle{}, nil
	}

	if on, ok := envelope["on"].(bool); ok {
		return SwitchSet{On: on}, nil
	}
	if obj, ok := value.(map[string]any); ok {
		if on, ok := obj["on"].(bool); ok {
			return SwitchSet{On: on}, nil
		}
	}
	if on, ok := value.(bool); ok {
		return SwitchSet{On: on}, nil
	}
	return nil, errors.New("unsupported switch command payload")
}
