package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// HVAC feature bits.
const (
	FeatureHVACOnOff Features = 1 << iota
	FeatureHVACTargetTemperature
	FeatureHVACFanModes
	FeatureHVACModes

	hvacFeatureMask = FeatureHVACOnOff | FeatureHVACTargetTemperature | FeatureHVACFanModes | FeatureHVACModes
)

// HVACMode is an operating mode of a climate entity.
type HVACMode string

const (
	HVACModeOff     HVACMode = "off"
	HVACModeHeat    HVACMode = "heat"
	HVACModeCool    HVACMode = "cool"
	HVACModeAuto    HVACMode = "auto"
	HVACModeDry     HVACMode = "dry"
	HVACModeFanOnly HVACMode = "fan_only"
)

// ParseHVACMode matches the wire spelling of a mode exactly.
func ParseHVACMode(s string) (HVACMode, bool) {
	switch HVACMode(s) {
	case HVACModeOff, HVACModeHeat, HVACModeCool, HVACModeAuto, HVACModeDry, HVACModeFanOnly:
		return HVACMode(s), true
	}
	return "", false
}

// HVACFanMode is a fan speed setting of a climate entity.
type HVACFanMode string

const (
	HVACFanAuto   HVACFanMode = "auto"
	HVACFanLow    HVACFanMode = "low"
	HVACFanMedium HVACFanMode = "medium"
	HVACFanHigh   HVACFanMode = "high"
	HVACFanTurbo  HVACFanMode = "turbo"
	HVACFanQuiet  HVACFanMode = "quiet"
)

// ParseHVACFanMode matches the wire spelling of a fan mode exactly.
func ParseHVACFanMode(s string) (HVACFanMode, bool) {
	switch HVACFanMode(s) {
	case HVACFanAuto, HVACFanLow, HVACFanMedium, HVACFanHigh, HVACFanTurbo, HVACFanQuiet:
		return HVACFanMode(s), true
	}
	return "", false
}

// HVACDescription is what a climate entity supports, derived from its
// entity attributes.
type HVACDescription struct {
	EntityID uuid.UUID
	Features Features
	MinTempC *float64
	MaxTempC *float64
}

// HVACState is a climate entity's typed state.
type HVACState struct {
	Mode                HVACMode
	TargetTemperatureC  *float64
	AmbientTemperatureC *float64
	FanMode             *HVACFanMode
}

// HVACCommand is one of the typed climate commands.
type HVACCommand interface {
	isHVACCommand()
	Envelope() contract.CommandSet
}

type HVACSetMode struct{ Mode HVACMode }

type HVACSetTargetTemperature struct{ TemperatureC float64 }

type HVACSetFanMode struct{ FanMode HVACFanMode }

func (HVACSetMode) isHVACCommand()              {}
func (HVACSetTargetTemperature) isHVACCommand() {}
func (HVACSetFanMode) isHVACCommand()           {}

func (c HVACSetMode) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set_mode", Value: map[string]any{"mode": c.Mode}}
}

func (c HVACSetTargetTemperature) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set_temperature", Value: map[string]any{"target_temperature_c": c.TemperatureC}}
}

func (c HVACSetFanMode) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set_fan_mode", Value: map[string]any{"fan_mode": c.FanMode}}
}

// DescribeHVAC derives a climate entity's capabilities from its
// attributes. Without an explicit "features" bitmask the defaults are
// ONOFF and MODES.
func DescribeHVAC(e model.Entity) (HVACDescription, error) {
	if e.Domain != model.DomainClimate {
		return HVACDescription{}, errors.New("not a climate entity")
	}

	features := FeatureHVACOnOff | FeatureHVACModes
	if bits, ok := attrUint(e.Attributes["features"]); ok {
		features = Features(bits) & hvacFeatureMask
	} else {
		if attrBool(e.Attributes["fan_modes"]) {
			features |= FeatureHVACFanModes
		}
		if attrBool(e.Attributes["target_temperature"]) {
			features |= FeatureHVACTargetTemperature
		}
	}

	d := HVACDescription{EntityID: e.ID, Features: features}
	if t, ok := attrFloat(e.Attributes["min_temp_c"]); ok {
		d.MinTempC = &t
	}
	if t, ok := attrFloat(e.Attributes["max_temp_c"]); ok {
		d.MaxTempC = &t
	}
	return d, nil
}

// Validate rejects commands the climate entity's feature set does not
// cover. Switching to mode "off" additionally requires ONOFF, and a
// target temperature must sit within the configured bounds.
func (d HVACDescription) Validate(cmd HVACCommand) error {
	switch c := cmd.(type) {
	case HVACSetMode:
		if !d.Features.Has(FeatureHVACModes) {
			return ErrModesUnsupported
		}
		if c.Mode == HVACModeOff && !d.Features.Has(FeatureHVACOnOff) {
			return ErrOnOffUnsupported
		}
	case HVACSetTargetTemperature:
		if !d.Features.Has(FeatureHVACTargetTemperature) {
			return ErrTemperatureUnsupported
		}
		if d.MinTempC != nil && c.TemperatureC < *d.MinTempC {
			return ErrTemperatureBelowMinimum
		}
		if d.MaxTempC != nil && c.TemperatureC > *d.MaxTempC {
			return ErrTemperatureAboveMaximum
		}
	case HVACSetFanMode:
		if !d.Features.Has(FeatureHVACFanModes) {
			return ErrFanModesUnsupported
		}
	}
	return nil
}

// HVACStateFrom lifts a persisted value and attributes into a typed
// climate state. An unrecognized mode value reads as off.
func HVACStateFrom(value any, attrs map[string]any) HVACState {
	st := HVACState{Mode: HVACModeOff}
	if s, ok := value.(string); ok {
		switch HVACMode(s) {
		case HVACModeHeat, HVACModeCool, HVACModeAuto, HVACModeDry, HVACModeFanOnly:
			st.Mode = HVACMode(s)
		}
	}

	if t, ok := attrFloat(attrs["target_temperature_c"]); ok {
		st.TargetTemperatureC = &t
	}
	if t, ok := attrFloat(attrs["ambient_temperature_c"]); ok {
		st.AmbientTemperatureC = &t
	}
	if s, ok := attrString(attrs["fan_mode"]); ok {
		if fan, ok := ParseHVACFanMode(s); ok {
			st.FanMode = &fan
		}
	}
	return st
}

// ParseHVACCommand reads a command payload leniently. When value is
// missing the whole payload stands in for it, so top-level fields like
// target_temperature_c work. The default action picks whichever of
// mode, temperature, or fan mode is present.
func ParseHVACCommand(payload []byte) (HVACCommand, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse command json: %w", err)
	}
	envelope, _ := raw.(map[string]any)

	action := "set"
	if s, ok := attrString(envelope["action"]); ok {
		action = s
	}
	value, ok := envelope["value"]
	if !ok {
		value = raw
	}
	obj, _ := value.(map[string]any)

	switch action {
	case "set_mode":
		mode, ok := hvacModeFrom(obj["mode"])
		if !ok {
			mode, ok = hvacModeFrom(value)
		}
		if !ok {
			return nil, errors.New("missing hvac mode")
		}
		return HVACSetMode{Mode: mode}, nil
	case "set_temperature":
		temp, ok := hvacTemperatureFrom(obj)
		if !ok {
			return nil, errors.New("missing target temperature")
		}
		return HVACSetTargetTemperature{TemperatureC: temp}, nil
	case "set_fan_mode":
		fan, ok := hvacFanModeFrom(obj["fan_mode"])
		if !ok {
			fan, ok = hvacFanModeFrom(value)
		}
		if !ok {
			return nil, errors.New("missing fan mode")
		}
		return HVACSetFanMode{FanMode: fan}, nil
	default:
		if mode, ok := hvacModeFrom(obj["mode"]); ok {
			return HVACSetMode{Mode: mode}, nil
		}
		if temp, ok := hvacTemperatureFrom(obj); ok {
			return HVACSetTargetTemperature{TemperatureC: temp}, nil
		}
		if fan, ok := hvacFanModeFrom(obj["fan_mode"]); ok {
			return HVACSetFanMode{FanMode: fan}, nil
		}
		return nil, errors.New("unsupported hvac command payload")
	}
}

func hvacModeFrom(v any) (HVACMode, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return ParseHVACMode(s)
}

func hvacFanModeFrom(v any) (HVACFanMode, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return ParseHVACFanMode(s)
}

// hvacTemperatureFrom accepts target_temperature_c or, when that key is
// absent, the shorter temperature alias.
func hvacTemperatureFrom(obj map[string]any) (float64, bool) {
	v, ok := obj["target_temperature_c"]
	if !ok {
		v, ok = obj["temperature"]
	}
	if !ok {
		return 0, false
	}
	return attrFloat(v)
}
