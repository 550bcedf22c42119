package lamp

import (
	"math"
	"testing"

	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
)

func TestVoltageFromPower(t *testing.T) {
	tests := []struct {
		power float64
		want  float64
	}{
		{0, 0},
		{800, 1.961},
		{1200, 5.0},
		{1000, 1.961 + 200*VoltsPerWatt},
	}
	for _, tc := range tests {
		got, err := VoltageFromPower(tc.power)
		if err != nil {
			t.Errorf("VoltageFromPower(%v) failed: %v", tc.power, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("VoltageFromPower(%v) = %v, want %v", tc.power, got, tc.want)
		}
	}
}

func TestVoltageFromPowerOutOfRange(t *testing.T) {
	for _, power := range []float64{-5, 1, 799.9, 1200.1, 1e6} {
		_, err := VoltageFromPower(power)
		if err == nil {
			t.Errorf("VoltageFromPower(%v) unexpectedly succeeded", power)
			continue
		}
		if !expected.Is(err) {
			t.Errorf("VoltageFromPower(%v) error %v is not an expected error", power, err)
		}
	}
}

func TestShutterStateFromSwitches(t *testing.T) {
	tests := []struct {
		openSwitch   bool
		closedSwitch bool
		want         ShutterState
	}{
		{false, false, ShutterStateUnknown},
		{true, false, ShutterStateOpen},
		{false, true, ShutterStateClosed},
		{true, true, ShutterStateInvalid},
	}
	for _, tc := range tests {
		got := shutterStateFromSwitches(tc.openSwitch, tc.closedSwitch)
		if got != tc.want {
			t.Errorf("shutterStateFromSwitches(%v, %v) = %v, want %v",
				tc.openSwitch, tc.closedSwitch, got, tc.want)
		}
	}
}

func TestControllerErrorFromBlinkCount(t *testing.T) {
	tests := []struct {
		count int
		want  ControllerError
	}{
		{1, ControllerError(1)},
		{7, ControllerError(7)},
		{15, ControllerError(15)},
		{0, ControllerErrorUnknown},
		{-2, ControllerErrorUnknown},
		{16, ControllerErrorUnknown},
	}
	for _, tc := range tests {
		if got := controllerErrorFromBlinkCount(tc.count); got != tc.want {
			t.Errorf("controllerErrorFromBlinkCount(%d) = %v, want %v",
				tc.count, got, tc.want)
		}
	}
}

func TestDeriveControllerState(t *testing.T) {
	tests := []struct {
		sample Sample
		want   ControllerState
	}{
		{Sample{}, ControllerStateOff},
		{Sample{StandbyOrOn: true}, ControllerStateStandbyOrOn},
		{Sample{Cooldown: true}, ControllerStateCooldown},
		{Sample{ErrorExists: true, StandbyOrOn: true}, ControllerStateError},
	}
	for _, tc := range tests {
		if got := deriveControllerState(tc.sample); got != tc.want {
			t.Errorf("deriveControllerState(%+v) = %v, want %v", tc.sample, got, tc.want)
		}
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		value interface{ String() string }
		want  string
	}{
		{BasicStateTurningOn, "TURNING_ON"},
		{BasicStateUnexpectedlyOff, "UNEXPECTEDLY_OFF"},
		{ControllerStateStandbyOrOn, "STANDBY_OR_ON"},
		{ShutterStateInvalid, "INVALID"},
		{ControllerErrorNone, "NONE"},
		{ControllerErrorUnknown, "UNKNOWN"},
		{ControllerError(4), "CODE_4"},
	}
	for _, tc := range tests {
		if got := tc.value.String(); got != tc.want {
			t.Errorf("%#v.String() = %q, want %q", tc.value, got, tc.want)
		}
	}
}
