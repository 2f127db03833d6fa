package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/metrics"
	"github.com/JacobSoderblom/krypin/internal/model"
	"github.com/JacobSoderblom/krypin/internal/storage"
)

// Engine evaluates automations against trigger events. Failures in one
// automation are logged and counted but never stop the others.
type Engine struct {
	store   Store
	storage storage.Store
	bus     bus.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine wires an engine. logger may be nil, in which case
// slog.Default() is used; metrics may be nil to disable counters.
func NewEngine(store Store, st storage.Store, b bus.Bus, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, storage: st, bus: b, logger: logger, metrics: m}
}

// Create validates the request, assigns an id and timestamps, and
// stores the definition. Enabled defaults to true.
func (e *Engine) Create(ctx context.Context, req NewAutomation) (Definition, error) {
	if err := req.Validate(); err != nil {
		return Definition{}, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	conditions := req.Conditions
	if conditions == nil {
		conditions = []Condition{}
	}
	actions := req.Actions
	if actions == nil {
		actions = []Action{}
	}

	now := time.Now().UTC()
	def := Definition{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Conditions:  conditions,
		Actions:     actions,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Insert(ctx, def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// List returns all stored automations.
func (e *Engine) List(ctx context.Context) ([]Definition, error) {
	return e.store.List(ctx)
}

// SetEnabled flips an automation on or off.
func (e *Engine) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (Definition, error) {
	def, err := e.store.Get(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	def.Enabled = enabled
	def.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// HandleEvent runs every enabled automation whose trigger matches. The
// returned error covers only the automation listing; per-automation
// failures are logged and recorded, and evaluation moves on.
func (e *Engine) HandleEvent(ctx context.Context, event TriggerEvent) error {
	defs, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}

	for _, def := range defs {
		if !def.Enabled || !triggerMatches(def.Trigger, event) {
			continue
		}

		hold, err := e.conditionsHold(ctx, def.Conditions, event)
		if err != nil {
			e.logger.Error("automation conditions failed", "automation", def.ID, "name", def.Name, "error", err)
			e.metrics.RecordAutomationRun("error")
			continue
		}
		if !hold {
			continue
		}

		if err := e.runActions(ctx, def.Actions, event); err != nil {
			e.logger.Error("automation actions failed", "automation", def.ID, "name", def.Name, "error", err)
			e.metrics.RecordAutomationRun("error")
			continue
		}
		e.metrics.RecordAutomationRun("ok")
	}
	return nil
}

// Test evaluates one automation against an event and reports whether it
// executed. Actions do run when everything matches; this is a live
// trigger with a verdict attached, not a simulation.
func (e *Engine) Test(ctx context.Context, id uuid.UUID, event TriggerEvent) (TestRun, error) {
	def, err := e.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return TestRun{AutomationID: id, Reason: model.StrPtr("automation not found")}, nil
	}
	if err != nil {
		return TestRun{}, err
	}

	if !triggerMatches(def.Trigger, event) {
		return TestRun{AutomationID: id, Reason: model.StrPtr("trigger did not match")}, nil
	}

	hold, err := e.conditionsHold(ctx, def.Conditions, event)
	if err != nil {
		return TestRun{}, err
	}
	if !hold {
		return TestRun{AutomationID: id, Reason: model.StrPtr("conditions failed")}, nil
	}

	if err := e.runActions(ctx, def.Actions, event); err != nil {
		return TestRun{}, err
	}
	return TestRun{AutomationID: id, Executed: true}, nil
}

func (e *Engine) conditionsHold(ctx context.Context, conditions []Condition, event TriggerEvent) (bool, error) {
	for _, c := range conditions {
		hold, err := e.conditionHolds(ctx, c, event)
		if err != nil {
			return false, err
		}
		if !hold {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) conditionHolds(ctx context.Context, c Condition, event TriggerEvent) (bool, error) {
	switch c.Type {
	case ConditionAlways:
		return true, nil

	case ConditionEntityStateEquals:
		if c.EntityID == nil {
			return false, nil
		}
		// A state_changed event for the same entity carries the
		// value to compare; anything else consults storage.
		if event.Type == EventStateChanged && event.EntityID != nil && *event.EntityID == *c.EntityID {
			return jsonEqual(event.To, c.Value), nil
		}
		state, err := e.storage.LatestEntityState(ctx, *c.EntityID)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return jsonEqual(state.Value, c.Value), nil

	case ConditionPayloadEquals:
		if event.Type != EventMQTTMessage {
			return false, nil
		}
		resolved, ok := resolvePointer(event.Payload, c.Path)
		if !ok {
			return false, nil
		}
		return jsonEqual(resolved, c.Value), nil
	}
	return false, fmt.Errorf("unknown condition type %q", c.Type)
}

func (e *Engine) runActions(ctx context.Context, actions []Action, event TriggerEvent) error {
	for _, a := range actions {
		if err := e.runAction(ctx, a, event); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runAction(ctx context.Context, a Action, event TriggerEvent) error {
	switch a.Type {
	case ActionSetEntityState:
		if a.EntityID == nil {
			return errors.New("set_entity_state action: missing entity_id")
		}
		attrs := a.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		now := time.Now().UTC()
		state := model.EntityState{
			EntityID:    *a.EntityID,
			Value:       a.Value,
			Attributes:  attrs,
			LastChanged: now,
			LastUpdated: now,
			Source:      model.StrPtr("automation"),
		}
		if err := e.storage.SetEntityState(ctx, state); err != nil {
			return fmt.Errorf("set entity state: %w", err)
		}
		return nil

	case ActionPublishBusMessage:
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return fmt.Errorf("marshal bus payload: %w", err)
		}
		if err := e.bus.Publish(ctx, bus.Message{Topic: a.Topic, Payload: payload}); err != nil {
			return fmt.Errorf("publish %s: %w", a.Topic, err)
		}
		return nil

	case ActionLog:
		e.logger.Info(a.Message, "event", event.Type)
		return nil
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

func triggerMatches(t Trigger, event TriggerEvent) bool {
	switch t.Type {
	case TriggerManual:
		return event.Type == EventManual

	case TriggerHeartbeat:
		return event.Type == EventHeartbeat

	case TriggerTime:
		return event.Type == EventTimeFired && t.Cron == event.Cron

	case TriggerStateChange:
		if event.Type != EventStateChanged || t.EntityID == nil ||
			event.EntityID == nil || *t.EntityID != *event.EntityID {
			return false
		}
		if t.From != nil && (event.From == nil || !jsonEqual(t.From, event.From)) {
			return false
		}
		if t.To != nil && !jsonEqual(t.To, event.To) {
			return false
		}
		return true

	case TriggerMQTTTopic:
		return event.Type == EventMQTTMessage && contract.TopicMatches(t.Pattern, event.Topic)
	}
	return false
}
