// Package automation evaluates user-defined rules against hub events.
// A rule pairs one trigger with ordered conditions and actions; the
// engine runs every enabled rule whose trigger matches an incoming
// TriggerEvent.
package automation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies what kind of event starts an automation.
type TriggerType string

const (
	TriggerTime        TriggerType = "time"
	TriggerStateChange TriggerType = "state_change"
	TriggerMQTTTopic   TriggerType = "mqtt_topic"
	TriggerHeartbeat   TriggerType = "heartbeat"
	TriggerManual      TriggerType = "manual"
)

// Trigger is a tagged union over TriggerType. Only the fields of the
// active variant are set: time uses Cron, state_change uses EntityID
// with optional From/To match values, mqtt_topic uses Pattern.
type Trigger struct {
	Type     TriggerType `json:"type"`
	Cron     string      `json:"cron,omitempty"`
	EntityID *uuid.UUID  `json:"entity_id,omitempty"`
	From     any         `json:"from,omitempty"`
	To       any         `json:"to,omitempty"`
	Pattern  string      `json:"pattern,omitempty"`
}

// Validate checks that the active variant carries its required fields.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerTime:
		if t.Cron == "" {
			return errors.New("time trigger: missing cron")
		}
	case TriggerStateChange:
		if t.EntityID == nil {
			return errors.New("state_change trigger: missing entity_id")
		}
	case TriggerMQTTTopic:
		if t.Pattern == "" {
			return errors.New("mqtt_topic trigger: missing pattern")
		}
	case TriggerHeartbeat, TriggerManual:
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// ConditionType identifies a guard evaluated after the trigger matches.
type ConditionType string

const (
	ConditionAlways            ConditionType = "always"
	ConditionEntityStateEquals ConditionType = "entity_state_equals"
	ConditionPayloadEquals     ConditionType = "payload_equals"
)

// Condition is a tagged union over ConditionType. entity_state_equals
// compares an entity's value against Value; payload_equals resolves
// Path (an RFC 6901 JSON Pointer) inside an mqtt_message payload and
// compares the result against Value.
type Condition struct {
	Type     ConditionType `json:"type"`
	EntityID *uuid.UUID    `json:"entity_id,omitempty"`
	Path     string        `json:"path,omitempty"`
	Value    any           `json:"value,omitempty"`
}

// Validate checks that the active variant carries its required fields.
// An empty Path is allowed: it is the JSON Pointer for the whole
// document.
func (c Condition) Validate() error {
	switch c.Type {
	case ConditionAlways, ConditionPayloadEquals:
	case ConditionEntityStateEquals:
		if c.EntityID == nil {
			return errors.New("entity_state_equals condition: missing entity_id")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// ActionType identifies what an automation does when it fires.
type ActionType string

const (
	ActionSetEntityState    ActionType = "set_entity_state"
	ActionPublishBusMessage ActionType = "publish_bus_message"
	ActionLog               ActionType = "log"
)

// Action is a tagged union over ActionType.
type Action struct {
	Type       ActionType     `json:"type"`
	EntityID   *uuid.UUID     `json:"entity_id,omitempty"`
	Value      any            `json:"value,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Topic      string         `json:"topic,omitempty"`
	Payload    any            `json:"payload,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Validate checks that the active variant carries its required fields.
func (a Action) Validate() error {
	switch a.Type {
	case ActionSetEntityState:
		if a.EntityID == nil {
			return errors.New("set_entity_state action: missing entity_id")
		}
	case ActionPublishBusMessage:
		if a.Topic == "" {
			return errors.New("publish_bus_message action: missing topic")
		}
	case ActionLog:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// EventType identifies an occurrence automations can react to.
type EventType string

const (
	EventTimeFired    EventType = "time_fired"
	EventStateChanged EventType = "state_changed"
	EventMQTTMessage  EventType = "mqtt_message"
	EventHeartbeat    EventType = "heartbeat"
	EventManual       EventType = "manual"
)

// TriggerEvent is a tagged union over EventType, built by the hub
// subscribers, the scheduler, and the test endpoint.
type TriggerEvent struct {
	Type     EventType  `json:"type"`
	Cron     string     `json:"cron,omitempty"`
	EntityID *uuid.UUID `json:"entity_id,omitempty"`
	From     any        `json:"from,omitempty"`
	To       any        `json:"to,omitempty"`
	Topic    string     `json:"topic,omitempty"`
	Payload  any        `json:"payload,omitempty"`
	TS       *time.Time `json:"ts,omitempty"`
}

// TimeFiredEvent reports that a cron schedule ticked. Cron carries the
// literal expression; triggers match it by string equality.
func TimeFiredEvent(cron string) TriggerEvent {
	return TriggerEvent{Type: EventTimeFired, Cron: cron}
}

// StateChangedEvent reports an entity state transition. From may be nil
// when the previous value is unknown.
func StateChangedEvent(entityID uuid.UUID, from, to any) TriggerEvent {
	return TriggerEvent{Type: EventStateChanged, EntityID: &entityID, From: from, To: to}
}

// MQTTMessageEvent reports a message observed on the bus.
func MQTTMessageEvent(topic string, payload any) TriggerEvent {
	return TriggerEvent{Type: EventMQTTMessage, Topic: topic, Payload: payload}
}

// HeartbeatEvent reports a hub heartbeat.
func HeartbeatEvent(ts time.Time) TriggerEvent {
	return TriggerEvent{Type: EventHeartbeat, TS: &ts}
}

// ManualEvent reports an operator-initiated run.
func ManualEvent() TriggerEvent {
	return TriggerEvent{Type: EventManual}
}

// Definition is a stored automation.
type Definition struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewAutomation is the creation request for a Definition. Enabled
// defaults to true when omitted.
type NewAutomation struct {
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Enabled     *bool       `json:"enabled"`
}

// Validate checks the request before it becomes a Definition.
func (n NewAutomation) Validate() error {
	if n.Name == "" {
		return errors.New("missing name")
	}
	if err := n.Trigger.Validate(); err != nil {
		return err
	}
	for _, c := range n.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, a := range n.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TestRun is the outcome of a dry-run request. Reason is set only when
// the automation did not execute.
type TestRun struct {
	AutomationID uuid.UUID `json:"automation_id"`
	Executed     bool      `json:"executed"`
	Reason       *string   `json:"reason"`
}
