package capability

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/JacobSoderblom/krypin/internal/model"
)

func climateEntity(attrs map[string]any) model.Entity {
	return model.Entity{
		ID:         uuid.New(),
		DeviceID:   uuid.New(),
		Name:       "Living Room Climate",
		Domain:     model.DomainClimate,
		Attributes: attrs,
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestDescribeHVAC(t *testing.T) {
	d, err := DescribeHVAC(climateEntity(nil))
	if err != nil {
		t.Fatalf("DescribeHVAC: %v", err)
	}
	if want := FeatureHVACOnOff | FeatureHVACModes; d.Features != want {
		t.Errorf("features = %b, want %b", d.Features, want)
	}

	d, err = DescribeHVAC(climateEntity(map[string]any{
		"target_temperature": true,
		"fan_modes":          true,
		"min_temp_c":         float64(7),
		"max_temp_c":         float64(30),
	}))
	if err != nil {
		t.Fatalf("DescribeHVAC: %v", err)
	}
	if !d.Features.Has(FeatureHVACTargetTemperature) || !d.Features.Has(FeatureHVACFanModes) {
		t.Errorf("features = %b, want target temperature and fan modes set", d.Features)
	}
	if d.MinTempC == nil || *d.MinTempC != 7 {
		t.Errorf("min temp = %v, want 7", d.MinTempC)
	}
	if d.MaxTempC == nil || *d.MaxTempC != 30 {
		t.Errorf("max temp = %v, want 30", d.MaxTempC)
	}
}

func TestHVACValidate(t *testing.T) {
	bounded := HVACDescription{
		Features: FeatureHVACOnOff | FeatureHVACModes | FeatureHVACTargetTemperature,
		MinTempC: floatPtr(7),
		MaxTempC: floatPtr(30),
	}

	tests := []struct {
		name    string
		desc    HVACDescription
		cmd     HVACCommand
		wantErr error
	}{
		{"mode ok", bounded, HVACSetMode{Mode: HVACModeHeat}, nil},
		{"off ok", bounded, HVACSetMode{Mode: HVACModeOff}, nil},
		{"modes rejected", HVACDescription{Features: FeatureHVACOnOff}, HVACSetMode{Mode: HVACModeHeat}, ErrModesUnsupported},
		{"off needs onoff", HVACDescription{Features: FeatureHVACModes}, HVACSetMode{Mode: HVACModeOff}, ErrOnOffUnsupported},
		{"temp ok", bounded, HVACSetTargetTemperature{TemperatureC: 21.5}, nil},
		{"temp rejected", HVACDescription{Features: FeatureHVACModes}, HVACSetTargetTemperature{TemperatureC: 21}, ErrTemperatureUnsupported},
		{"temp below min", bounded, HVACSetTargetTemperature{TemperatureC: 5}, ErrTemperatureBelowMinimum},
		{"temp above max", bounded, HVACSetTargetTemperature{TemperatureC: 35}, ErrTemperatureAboveMaximum},
		{"fan rejected", bounded, HVACSetFanMode{FanMode: HVACFanLow}, ErrFanModesUnsupported},
		{"fan ok", HVACDescription{Features: FeatureHVACFanModes}, HVACSetFanMode{FanMode: HVACFanLow}, nil},
	}
	for _, tt := range tests {
		if err := tt.desc.Validate(tt.cmd); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseHVACCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    HVACCommand
	}{
		{"set_mode", `{"action":"set_mode","value":{"mode":"heat"}}`, HVACSetMode{Mode: HVACModeHeat}},
		{"set_mode bare value", `{"action":"set_mode","value":"cool"}`, HVACSetMode{Mode: HVACModeCool}},
		{"set_temperature", `{"action":"set_temperature","value":{"target_temperature_c":21.5}}`,
			HVACSetTargetTemperature{TemperatureC: 21.5}},
		{"temperature alias", `{"action":"set_temperature","value":{"temperature":19}}`,
			HVACSetTargetTemperature{TemperatureC: 19}},
		{"top-level fields", `{"action":"set_temperature","target_temperature_c":22}`,
			HVACSetTargetTemperature{TemperatureC: 22}},
		{"set_fan_mode", `{"action":"set_fan_mode","value":{"fan_mode":"turbo"}}`,
			HVACSetFanMode{FanMode: HVACFanTurbo}},
		{"default picks mode", `{"value":{"mode":"dry","target_temperature_c":20}}`,
			HVACSetMode{Mode: HVACModeDry}},
		{"default picks temperature", `{"value":{"target_temperature_c":20,"fan_mode":"low"}}`,
			HVACSetTargetTemperature{TemperatureC: 20}},
		{"default picks fan", `{"value":{"fan_mode":"quiet"}}`, HVACSetFanMode{FanMode: HVACFanQuiet}},
	}
	for _, tt := range tests {
		got, err := ParseHVACCommand([]byte(tt.payload))
		if err != nil {
			t.Errorf("%s: ParseHVACCommand: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %#v, want %#v", tt.name, got, tt.want)
		}
	}
}

func TestParseHVACCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing mode", `{"action":"set_mode","value":{}}`},
		{"unknown mode", `{"action":"set_mode","value":{"mode":"cryo"}}`},
		{"missing temperature", `{"action":"set_temperature","value":{}}`},
		{"missing fan mode", `{"action":"set_fan_mode","value":{}}`},
		{"nothing recognizable", `{"value":{"swing":"wide"}}`},
	}
	for _, tt := range tests {
		if _, err := ParseHVACCommand([]byte(tt.payload)); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

func TestHVACStateFrom(t *testing.T) {
	st := HVACStateFrom("heat", map[string]any{
		"target_temperature_c":  21.5,
		"ambient_temperature_c": 19.0,
		"fan_mode":              "low",
	})
	if st.Mode != HVACModeHeat {
		t.Errorf("mode = %q, want %q", st.Mode, HVACModeHeat)
	}
	if st.TargetTemperatureC == nil || *st.TargetTemperatureC != 21.5 {
		t.Errorf("target = %v, want 21.5", st.TargetTemperatureC)
	}
	if st.AmbientTemperatureC == nil || *st.AmbientTemperatureC != 19.0 {
		t.Errorf("ambient = %v, want 19", st.AmbientTemperatureC)
	}
	if st.FanMode == nil || *st.FanMode != HVACFanLow {
		t.Errorf("fan mode = %v, want low", st.FanMode)
	}

	// Anything unrecognizable reads as off.
	st = HVACStateFrom("open_window", nil)
	if st.Mode != HVACModeOff {
		t.Errorf("mode = %q, want %q", st.Mode, HVACModeOff)
	}
	st = HVACStateFrom(true, map[string]any{"fan_mode": "cyclone"})
	if st.Mode != HVACModeOff || st.FanMode != nil {
		t.Errorf("got %+v, want off with no fan mode", st)
	}
}

func TestHVACEnvelopeRoundTrip(t *testing.T) {
	commands := []HVACCommand{
		HVACSetMode{Mode: HVACModeHeat},
		HVACSetTargetTemperature{TemperatureC: 21.5},
		HVACSetFanMode{FanMode: HVACFanAuto},
	}
	for _, cmd := range commands {
		payload, err := json.Marshal(cmd.Envelope())
		if err != nil {
			t.Fatalf("marshal envelope for %#v: %v", cmd, err)
		}
		got, err := ParseHVACCommand(payload)
		if err != nil {
			t.Fatalf("parse %s: %v", payload, err)
		}
		if !reflect.DeepEqual(got, cmd) {
			t.Errorf("round trip %s: got %#v, want %#v", payload, got, cmd)
		}
	}
}
