package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// Light feature bits.
const (
	FeatureLightOnOff Features = 1 << iota
	FeatureLightDimmable
	FeatureLightColorTemp
	FeatureLightRGB

	lightFeatureMask = FeatureLightOnOff | FeatureLightDimmable | FeatureLightColorTemp | FeatureLightRGB
)

// LightDescription is what a light supports, derived from its entity
// attributes.
type LightDescription struct {
	EntityID  uuid.UUID
	Features  Features
	MinMireds *uint16
	MaxMireds *uint16
}

// LightState is a light's typed state. At most one of Mireds and RGB is
// set.
type LightState struct {
	On         bool
	Brightness *uint8 // 0..=100 normalized
	Mireds     *uint16
	RGB        *RGB
}

// LightCommand is one of the typed light commands.
type LightCommand interface {
	isLightCommand()
	// Envelope returns the canonical command payload for this command.
	Envelope() contract.CommandSet
}

type LightSetPower struct{ On bool }

type LightToggle struct{}

type LightSetBrightness struct {
	Level        uint8 // 0..=100 normalized
	TransitionMS *uint32
}

type LightSetColorTemp struct {
	Mireds       uint16
	TransitionMS *uint32
}

type LightSetRGB struct {
	RGB          RGB
	TransitionMS *uint32
}

func (LightSetPower) isLightCommand()      {}
func (LightToggle) isLightCommand()        {}
func (LightSetBrightness) isLightCommand() {}
func (LightSetColorTemp) isLightCommand()  {}
func (LightSetRGB) isLightCommand()        {}

func (c LightSetPower) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set", Value: map[string]any{"on": c.On}}
}

func (LightToggle) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "toggle"}
}

func (c LightSetBrightness) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set", Value: map[string]any{
		"brightness":    c.Level,
		"transition_ms": c.TransitionMS,
	}}
}

func (c LightSetColorTemp) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set", Value: map[string]any{
		"mireds":        c.Mireds,
		"transition_ms": c.TransitionMS,
	}}
}

func (c LightSetRGB) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "set", Value: map[string]any{
		"rgb":           []any{c.RGB.R, c.RGB.G, c.RGB.B},
		"transition_ms": c.TransitionMS,
	}}
}

// DescribeLight derives a light's capabilities from its attributes. An
// explicit "features" bitmask attribute replaces the defaults entirely;
// otherwise ONOFF is assumed and boolean attributes add the rest.
func DescribeLight(e model.Entity) (LightDescription, error) {
	if e.Domain != model.DomainLight {
		return LightDescription{}, errors.New("not a light entity")
	}

	features := FeatureLightOnOff
	if bits, ok := attrUint(e.Attributes["features"]); ok {
		features = Features(bits) & lightFeatureMask
	} else {
		if attrBool(e.Attributes["dimmable"]) {
			features |= FeatureLightDimmable
		}
		if attrBool(e.Attributes["color_temp"]) {
			features |= FeatureLightColorTemp
		}
		if attrBool(e.Attributes["rgb"]) {
			features |= FeatureLightRGB
		}
	}

	d := LightDescription{EntityID: e.ID, Features: features}
	if n, ok := attrUint(e.Attributes["min_mireds"]); ok {
		m := uint16(n)
		d.MinMireds = &m
	}
	if n, ok := attrUint(e.Attributes["max_mireds"]); ok {
		m := uint16(n)
		d.MaxMireds = &m
	}
	return d, nil
}

// Validate rejects commands the light's feature set does not cover.
func (d LightDescription) Validate(cmd LightCommand) error {
	switch cmd.(type) {
	case LightSetPower, LightToggle:
		if !d.Features.Has(FeatureLightOnOff) {
			return ErrOnOffUnsupported
		}
	case LightSetBrightness:
		if !d.Features.Has(FeatureLightDimmable) {
			return ErrDimmingUnsupported
		}
	case LightSetColorTemp:
		if !d.Features.Has(FeatureLightColorTemp) {
			return ErrColorTempUnsupported
		}
	case LightSetRGB:
		if !d.Features.Has(FeatureLightRGB) {
			return ErrRGBUnsupported
		}
	}
	return nil
}

// LightStateFrom lifts a persisted value and attributes into a typed
// light state. The value may be a bool or the strings "on"/"off"
// (case-insensitive); anything else reads as off.
func LightStateFrom(value any, attrs map[string]any) LightState {
	st := LightState{On: valueIsOn(value)}

	if v, ok := attrs["brightness"]; ok {
		if n, ok := attrUint(v); ok {
			// Heuristic: if > 100, treat as 0..255.
			var pct uint8
			if n > 100 {
				pct = uint8((min(n, 255) * 100) / 255)
			} else {
				pct = uint8(n)
			}
			st.Brightness = &pct
		}
	}

	if n, ok := attrUint(attrs["mireds"]); ok {
		m := uint16(n)
		st.Mireds = &m
	} else if r, okR := attrUint(attrs["r"]); okR {
		if g, okG := attrUint(attrs["g"]); okG {
			if b, okB := attrUint(attrs["b"]); okB {
				st.RGB = &RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
			}
		}
	} else if rgb, ok := rgbFromAny(attrs["rgb"]); ok {
		st.RGB = &rgb
	}

	return st
}

// ParseLightCommand reads a command payload leniently: a missing action
// defaults to "set", and the fields of value decide the command. A bare
// boolean value is a power command.
func ParseLightCommand(payload []byte) (LightCommand, error) {
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
		return LightToggle{}, nil
	}

	if obj, ok := value.(map[string]any); ok {
		if on, ok := obj["on"].(bool); ok {
			return LightSetPower{On: on}, nil
		}
		if n, ok := attrUint(obj["brightness"]); ok {
			return LightSetBrightness{
				Level:        clampLevel(n),
				TransitionMS: transitionFrom(obj),
			}, nil
		}
		if n, ok := attrUint(obj["mireds"]); ok {
			return LightSetColorTemp{
				Mireds:       uint16(n),
				TransitionMS: transitionFrom(obj),
			}, nil
		}
		if rgb, ok := rgbFromAny(obj["rgb"]); ok {
			return LightSetRGB{
				RGB:          rgb,
				TransitionMS: transitionFrom(obj),
			}, nil
		}
	}
	if on, ok := value.(bool); ok {
		return LightSetPower{On: on}, nil
	}
	return nil, errors.New("unsupported light command payload")
}

// clampLevel normalizes a raw brightness to 0..=100: anything above 255
// or 100 becomes 100.
func clampLevel(n uint64) uint8 {
	level := uint8(100)
	if n <= 255 {
		level = uint8(n)
	}
	if level > 100 {
		level = 100
	}
	return level
}

func transitionFrom(obj map[string]any) *uint32 {
	n, ok := attrUint(obj["transition_ms"])
	if !ok {
		return nil
	}
	t := uint32(n)
	return &t
}
