package capability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/contract"
	"github.com/JacobSoderblom/krypin/internal/model"
)

// Robot vacuum feature bits.
const (
	FeatureVacuumStart Features = 1 << iota
	FeatureVacuumPause
	FeatureVacuumStop
	FeatureVacuumDock
	FeatureVacuumLocate
	FeatureVacuumSpot

	vacuumFeatureMask = FeatureVacuumStart | FeatureVacuumPause | FeatureVacuumStop |
		FeatureVacuumDock | FeatureVacuumLocate | FeatureVacuumSpot
)

// VacuumStatus is a robot vacuum's activity.
type VacuumStatus string

const (
	VacuumIdle      VacuumStatus = "idle"
	VacuumCleaning  VacuumStatus = "cleaning"
	VacuumPaused    VacuumStatus = "paused"
	VacuumReturning VacuumStatus = "returning"
	VacuumDocked    VacuumStatus = "docked"
	VacuumError     VacuumStatus = "error"
)

// VacuumDescription is what a robot vacuum supports, derived from its
// entity attributes.
type VacuumDescription struct {
	EntityID uuid.UUID
	Features Features
}

// VacuumState is a robot vacuum's typed state.
type VacuumState struct {
	Status       VacuumStatus
	BatteryLevel *uint8
	FanPower     *uint8
}

// VacuumCommand is one of the typed vacuum commands.
type VacuumCommand interface {
	isVacuumCommand()
	Envelope() contract.CommandSet
}

type VacuumStart struct{}
type VacuumPause struct{}
type VacuumStop struct{}
type VacuumDock struct{}
type VacuumLocate struct{}
type VacuumSpotClean struct{}

func (VacuumStart) isVacuumCommand()     {}
func (VacuumPause) isVacuumCommand()     {}
func (VacuumStop) isVacuumCommand()      {}
func (VacuumDock) isVacuumCommand()      {}
func (VacuumLocate) isVacuumCommand()    {}
func (VacuumSpotClean) isVacuumCommand() {}

func (VacuumStart) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "start"}
}
func (VacuumPause) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "pause"}
}
func (VacuumStop) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "stop"}
}
func (VacuumDock) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "dock"}
}
func (VacuumLocate) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "locate"}
}
func (VacuumSpotClean) Envelope() contract.CommandSet {
	return contract.CommandSet{Action: "spot_clean"}
}

// DescribeVacuum derives a robot vacuum's capabilities from its
// attributes. Without an explicit "features" bitmask the defaults are
// START, STOP, and DOCK.
func DescribeVacuum(e model.Entity) (VacuumDescription, error) {
	if e.Domain != model.DomainRobotVacuum {
		return VacuumDescription{}, errors.New("not a robot vacuum entity")
	}

	features := FeatureVacuumStart | FeatureVacuumStop | FeatureVacuumDock
	if bits, ok := attrUint(e.Attributes["features"]); ok {
		features = Features(bits) & vacuumFeatureMask
	} else {
		if attrBool(e.Attributes["pause"]) {
			features |= FeatureVacuumPause
		}
		if attrBool(e.Attributes["locate"]) {
			features |= FeatureVacuumLocate
		}
		if attrBool(e.Attributes["spot_clean"]) {
			features |= FeatureVacuumSpot
		}
	}

	return VacuumDescription{EntityID: e.ID, Features: features}, nil
}

// Validate rejects commands the vacuum's feature set does not cover.
func (d VacuumDescription) Validate(cmd VacuumCommand) error {
	var requires Features
	switch cmd.(type) {
	case VacuumStart:
		requires = FeatureVacuumStart
	case VacuumPause:
		requires = FeatureVacuumPause
	case VacuumStop:
		requires = FeatureVacuumStop
	case VacuumDock:
		requires = FeatureVacuumDock
	case VacuumLocate:
		requires = FeatureVacuumLocate
	case VacuumSpotClean:
		requires = FeatureVacuumSpot
	}
	if !d.Features.Has(requires) {
		return ErrCommandUnsupported
	}
	return nil
}

// VacuumStateFrom lifts a persisted value and attributes into a typed
// vacuum state. An unrecognized status value reads as idle.
func VacuumStateFrom(value any, attrs map[string]any) VacuumState {
	st := VacuumState{Status: VacuumIdle}
	if s, ok := value.(string); ok {
		switch VacuumStatus(s) {
		case VacuumCleaning, VacuumPaused, VacuumReturning, VacuumDocked, VacuumError:
			st.Status = VacuumStatus(s)
		}
	}

	if n, ok := attrUint(attrs["battery"]); ok {
		b := uint8(n)
		st.BatteryLevel = &b
	}
	if n, ok := attrUint(attrs["fan_power"]); ok {
		f := uint8(n)
		st.FanPower = &f
	}
	return st
}

// ParseVacuumCommand reads a command payload. A missing action defaults
// to "start"; vacuum commands carry no value.
func ParseVacuumCommand(payload []byte) (VacuumCommand, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse command json: %w", err)
	}
	envelope, _ := raw.(map[string]any)

	action := "start"
	if s, ok := attrString(envelope["action"]); ok {
		action = s
	}

	switch action {
	case "start":
		return VacuumStart{}, nil
	case "pause":
		return VacuumPause{}, nil
	case "stop":
		return VacuumStop{}, nil
	case "dock":
		return VacuumDock{}, nil
	case "locate":
		return VacuumLocate{}, nil
	case "spot_clean":
		return VacuumSpotClean{}, nil
	}
	return nil, errors.New("unsupported robot vacuum command")
}
