// Package capability gives each entity domain a typed surface over the
// loose JSON that travels on the bus: descriptions derived from entity
// attributes, typed states lifted from persisted values, typed commands
// parsed leniently from command payloads, and the canonical envelope
// each command serializes back to. Adapters validate commands against a
// description before acting; the HTTP API reuses the same checks.
package capability

import (
	"errors"
	"math"
	"strings"
)

// Features is a bitmask of operations an entity supports. Each domain
// defines its own bit layout.
type Features uint64

// Has reports whether every bit of flag is set.
func (f Features) Has(flag Features) bool { return f&flag == flag }

// RGB is a 24-bit color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Validation errors shared across domains.
var (
	ErrOnOffUnsupported        = errors.New("on/off unsupported")
	ErrToggleUnsupported       = errors.New("toggle unsupported")
	ErrDimmingUnsupported      = errors.New("dimming unsupported")
	ErrColorTempUnsupported    = errors.New("color temp unsupported")
	ErrRGBUnsupported          = errors.New("rgb unsupported")
	ErrModesUnsupported        = errors.New("modes unsupported")
	ErrTemperatureUnsupported  = errors.New("temperature unsupported")
	ErrTemperatureBelowMinimum = errors.New("temperature below minimum")
	ErrTemperatureAboveMaximum = errors.New("temperature above maximum")
	ErrFanModesUnsupported     = errors.New("fan modes unsupported")
	ErrCommandUnsupported      = errors.New("command unsupported")
)

// attrUint reads v as a non-negative integer. JSON numbers arrive as
// float64; integer types cover values built in Go code.
func attrUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	}
	return 0, false
}

// attrFloat reads v as a number.
func attrFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// attrBool reports whether v is the boolean true. Any other shape,
// including truthy strings, is false.
func attrBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// attrString reads v as a string.
func attrString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// valueIsOn interprets a loose power value: a bool, or the strings
// "on"/"off" in any case. Anything else reads as off.
func valueIsOn(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "on")
	}
	return false
}

// rgbFromAny reads v as a 3-element JSON array; non-numeric components
// count as zero.
func rgbFromAny(v any) (RGB, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return RGB{}, false
	}
	var c [3]uint8
	for i, e := range arr {
		n, _ := attrUint(e)
		c[i] = uint8(n)
	}
	return RGB{R: c[0], G: c[1], B: c[2]}, true
}
