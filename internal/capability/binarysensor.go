package capability

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

// BinarySensorDeviceClass narrows how a binary sensor's on/off reading
// should be presented.
type BinarySensorDeviceClass string

const (
	DeviceClassDoor      BinarySensorDeviceClass = "door"
	DeviceClassWindow    BinarySensorDeviceClass = "window"
	DeviceClassMotion    BinarySensorDeviceClass = "motion"
	DeviceClassOccupancy BinarySensorDeviceClass = "occupancy"
	DeviceClassMoisture  BinarySensorDeviceClass = "moisture"
	DeviceClassSmoke     BinarySensorDeviceClass = "smoke"
	DeviceClassVibration BinarySensorDeviceClass = "vibration"
	DeviceClassGeneric   BinarySensorDeviceClass = "generic"
)

// ParseBinarySensorDeviceClass matches the wire spelling exactly.
func ParseBinarySensorDeviceClass(s string) (BinarySensorDeviceClass, bool) {
	switch BinarySensorDeviceClass(s) {
	case DeviceClassDoor, DeviceClassWindow, DeviceClassMotion, DeviceClassOccupancy,
		DeviceClassMoisture, DeviceClassSmoke, DeviceClassVibration, DeviceClassGeneric:
		return BinarySensorDeviceClass(s), true
	}
	return "", false
}

// BinarySensorDescription is how a binary sensor presents itself,
// derived from its entity attributes. Inverted sensors report the
// opposite of their raw reading.
type BinarySensorDescription struct {
	EntityID    uuid.UUID
	DeviceClass *BinarySensorDeviceClass
	Inverted    bool
}

// BinarySensorState is a binary sensor's typed state.
type BinarySensorState struct {
	On bool
}

// DescribeBinarySensor derives a binary sensor's presentation from its
// attributes. Both the sensor and binary_sensor domains qualify.
func DescribeBinarySensor(e model.Entity) (BinarySensorDescription, error) {
	if e.Domain != model.DomainSensor && e.Domain != model.DomainBinarySensor {
		return BinarySensorDescription{}, errors.New("not a binary sensor entity")
	}

	d := BinarySensorDescription{EntityID: e.ID}
	if s, ok := attrString(e.Attributes["device_class"]); ok {
		if class, ok := ParseBinarySensorDeviceClass(s); ok {
			d.DeviceClass = &class
		}
	}
	d.Inverted = attrBool(e.Attributes["inverted"])
	return d, nil
}

// BinarySensorStateFrom lifts a persisted value and attributes into a
// typed binary sensor state. The value may be a bool, "on"/"off" in any
// case, or the literal strings "open"/"closed". A boolean "on"
// attribute overrides the value.
func BinarySensorStateFrom(value any, attrs map[string]any) BinarySensorState {
	on := false
	switch v := value.(type) {
	case bool:
		on = v
	case string:
		if strings.EqualFold(v, "on") || v == "open" {
			on = true
		}
	}

	if b, ok := attrs["on"].(bool); ok {
		on = b
	}
	return BinarySensorState{On: on}
}
