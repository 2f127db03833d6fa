package automation

import (
	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

// MotionLight turns a light on whenever a motion sensor reports
// activity: a state_change trigger on the sensor, guarded by an
// entity_state_equals check for true, driving a set_entity_state on the
// light.
func MotionLight(motionSensor, light uuid.UUID) NewAutomation {
	return NewAutomation{
		Name:        "motion -> light on",
		Description: model.StrPtr("Turn on the light whenever motion is detected"),
		Trigger:     Trigger{Type: TriggerStateChange, EntityID: &motionSensor},
		Conditions: []Condition{
			{Type: ConditionEntityStateEquals, EntityID: &motionSensor, Value: true},
		},
		Actions: []Action{
			{Type: ActionSetEntityState, EntityID: &light, Value: "on"},
		},
	}
}

// ThermostatSchedule applies a target temperature on a cron schedule.
// The cron string is matched literally against time_fired events.
func ThermostatSchedule(thermostat uuid.UUID, targetTempCelsius float64, cron string) NewAutomation {
	return NewAutomation{
		Name:        "thermostat schedule",
		Description: model.StrPtr("Apply a scheduled target temperature"),
		Trigger:     Trigger{Type: TriggerTime, Cron: cron},
		Conditions:  []Condition{{Type: ConditionAlways}},
		Actions: []Action{
			{
				Type:       ActionSetEntityState,
				EntityID:   &thermostat,
				Value:      targetTempCelsius,
				Attributes: map[string]any{"unit": "C"},
			},
		},
	}
}
