// Package model defines the hub's persistent records: areas, devices,
// entities, and the append-only entity state history. Components pass
// these records by value and look related records up by id rather than
// holding references.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityDomain classifies what kind of thing an entity is. The wire
// representation is the snake_case string.
type EntityDomain string

const (
	DomainLight        EntityDomain = "light"
	DomainSwitch       EntityDomain = "switch"
	DomainSensor       EntityDomain = "sensor"
	DomainBinarySensor EntityDomain = "binary_sensor"
	DomainButton       EntityDomain = "button"
	DomainCover        EntityDomain = "cover"
	DomainFan          EntityDomain = "fan"
	DomainLock         EntityDomain = "lock"
	DomainMediaPlayer  EntityDomain = "media_player"
	DomainClimate      EntityDomain = "climate"
	DomainRobotVacuum  EntityDomain = "robot_vacuum"
	DomainOther        EntityDomain = "other"
)

// Valid reports whether d is one of the known domains.
func (d EntityDomain) Valid() bool {
	switch d {
	case DomainLight, DomainSwitch, DomainSensor, DomainBinarySensor,
		DomainButton, DomainCover, DomainFan, DomainLock,
		DomainMediaPlayer, DomainClimate, DomainRobotVacuum, DomainOther:
		return true
	}
	return false
}

// Area is a physical or logical location. Areas form a forest: Parent,
// when set, must name an existing area.
type Area struct {
	ID     uuid.UUID  `json:"id"`
	Name   string     `json:"name"`
	Parent *uuid.UUID `json:"parent"`
}

// Device is a piece of hardware announced by an adapter. One device may
// expose several entities.
type Device struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Adapter      string         `json:"adapter"`
	Manufacturer *string        `json:"manufacturer"`
	Model        *string        `json:"model"`
	SWVersion    *string        `json:"sw_version"`
	HWVersion    *string        `json:"hw_version"`
	Area         *uuid.UUID     `json:"area"`
	Metadata     map[string]any `json:"metadata"`
}

// Entity is the smallest addressable unit of control or observation.
// Attributes carry per-domain feature flags and limits (for example a
// "features" bitmask, "min_mireds", "max_temp_c", "inverted").
type Entity struct {
	ID         uuid.UUID      `json:"id"`
	DeviceID   uuid.UUID      `json:"device_id"`
	Name       string         `json:"name"`
	Domain     EntityDomain   `json:"domain"`
	Icon       *string        `json:"icon"`
	Key        *string        `json:"key"`
	Attributes map[string]any `json:"attributes"`
}

// EntityState is one record in an entity's append-only state history.
// The latest view is the record with the greatest LastUpdated.
type EntityState struct {
	EntityID    uuid.UUID      `json:"entity_id"`
	Value       any            `json:"value"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Source      *string        `json:"source"`
}

// StrPtr returns a pointer to s. Convenience for the optional string
// fields above.
func StrPtr(s string) *string { return &s }
