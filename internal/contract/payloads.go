package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

// DeviceAnnounce declares a device's existence on TopicDeviceAnnounce.
type DeviceAnnounce struct {
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

// EntityAnnounce declares an entity's existence on TopicEntityAnnounce.
type EntityAnnounce struct {
	ID         uuid.UUID          `json:"id"`
	DeviceID   uuid.UUID          `json:"device_id"`
	Name       string             `json:"name"`
	Domain     model.EntityDomain `json:"domain"`
	Icon       *string            `json:"icon"`
	Key        *string            `json:"key"`
	Attributes map[string]any     `json:"attributes"`
}

// StateUpdate reports an entity's new state on its state update topic.
// TS is produced in UTC and is authoritative for both last_changed and
// last_updated on the persisted record.
type StateUpdate struct {
	EntityID   uuid.UUID      `json:"entity_id"`
	Value      any            `json:"value"`
	Attributes map[string]any `json:"attributes"`
	TS         time.Time      `json:"ts"`
	Source     *string        `json:"source"`
}

// CommandSet asks the owning adapter to act, published on the entity's
// command topic. CorrelationID, when set, is echoed on the resulting
// state update so callers can match request and response.
type CommandSet struct {
	Action        string     `json:"action"`
	Value         any        `json:"value"`
	CorrelationID *uuid.UUID `json:"correlation_id"`
}

// Heartbeat is the hub's periodic liveness tick on TopicHeartbeat.
type Heartbeat struct {
	TS time.Time `json:"ts"`
}

// DecodeDeviceAnnounce parses and validates a device announce payload.
func DecodeDeviceAnnounce(payload []byte) (DeviceAnnounce, error) {
	var v DeviceAnnounce
	if err := json.Unmarshal(payload, &v); err != nil {
		return DeviceAnnounce{}, fmt.Errorf("decode device announce: %w", err)
	}
	if v.ID == uuid.Nil {
		return DeviceAnnounce{}, fmt.Errorf("device announce: missing id")
	}
	if v.Name == "" {
		return DeviceAnnounce{}, fmt.Errorf("device announce: missing name")
	}
	if v.Adapter == "" {
		return DeviceAnnounce{}, fmt.Errorf("device announce: missing adapter")
	}
	return v, nil
}

// DecodeEntityAnnounce parses and validates an entity announce payload.
func DecodeEntityAnnounce(payload []byte) (EntityAnnounce, error) {
	var v EntityAnnounce
	if err := json.Unmarshal(payload, &v); err != nil {
		return EntityAnnounce{}, fmt.Errorf("decode entity announce: %w", err)
	}
	if v.ID == uuid.Nil {
		return EntityAnnounce{}, fmt.Errorf("entity announce: missing id")
	}
	if v.DeviceID == uuid.Nil {
		return EntityAnnounce{}, fmt.Errorf("entity announce: missing device_id")
	}
	if v.Name == "" {
		return EntityAnnounce{}, fmt.Errorf("entity announce: missing name")
	}
	if !v.Domain.Valid() {
		return EntityAnnounce{}, fmt.Errorf("entity announce: unknown domain %q", v.Domain)
	}
	return v, nil
}

// DecodeStateUpdate parses and validates a state update payload.
func DecodeStateUpdate(payload []byte) (StateUpdate, error) {
	var v StateUpdate
	if err := json.Unmarshal(payload, &v); err != nil {
		return StateUpdate{}, fmt.Errorf("decode state update: %w", err)
	}
	if v.EntityID == uuid.Nil {
		return StateUpdate{}, fmt.Errorf("state update: missing entity_id")
	}
	if v.TS.IsZero() {
		return StateUpdate{}, fmt.Errorf("state update: missing ts")
	}
	return v, nil
}

// DecodeCommandSet parses and validates a canonical command envelope.
// Lenient command parsing (defaulted action, top-level fields) is the
// capability mappers' job; this decoder insists on the canonical shape.
func DecodeCommandSet(payload []byte) (CommandSet, error) {
	var v CommandSet
	if err := json.Unmarshal(payload, &v); err != nil {
		return CommandSet{}, fmt.Errorf("decode command: %w", err)
	}
	if v.Action == "" {
		return CommandSet{}, fmt.Errorf("command: missing action")
	}
	return v, nil
}

// DecodeHeartbeat parses and validates a heartbeat payload.
func DecodeHeartbeat(payload []byte) (Heartbeat, error) {
	var v Heartbeat
	if err := json.Unmarshal(payload, &v); err != nil {
		return Heartbeat{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	if v.TS.IsZero() {
		return Heartbeat{}, fmt.Errorf("heartbeat: missing ts")
	}
	return v, nil
}

// Device converts the announce into its storage record.
func (a DeviceAnnounce) Device() model.Device {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return model.Device{
		ID:           a.ID,
		Name:         a.Name,
		Adapter:      a.Adapter,
		Manufacturer: a.Manufacturer,
		Model:        a.Model,
		SWVersion:    a.SWVersion,
		HWVersion:    a.HWVersion,
		Area:         a.Area,
		Metadata:     metadata,
	}
}

// Entity converts the announce into its storage record.
func (a EntityAnnounce) Entity() model.Entity {
	attrs := a.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return model.Entity{
		ID:         a.ID,
		DeviceID:   a.DeviceID,
		Name:       a.Name,
		Domain:     a.Domain,
		Icon:       a.Icon,
		Key:        a.Key,
		Attributes: attrs,
	}
}

// EntityState converts the update into its storage record. TS becomes
// both LastChanged and LastUpdated.
func (u StateUpdate) EntityState() model.EntityState {
	attrs := u.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return model.EntityState{
		EntityID:    u.EntityID,
		Value:       u.Value,
		Attributes:  attrs,
		LastChanged: u.TS,
		LastUpdated: u.TS,
		Source:      u.Source,
	}
}
