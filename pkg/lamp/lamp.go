// Package lamp controls a Horiba KiloArc white light source through a
// LabJack I/O module: an analog output sets the lamp power, digital
// inputs report controller status (including a blinking error signal
// that encodes fault codes as pulse counts), and digital outputs drive
// the shutter motor.
//
// The state machine infers the lamp's real-world state from these
// noisy signals on a fast poll loop and enforces the warmup and
// cooldown interlocks the KiloArc User's Guide requires to protect
// the bulb.
package lamp

import (
	"fmt"
	"time"

	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
)

// StatusInterval is the interval between reading lamp state.
// It must be short enough to reliably follow the blinking error
// signal (well under a quarter of ErrorBlinkingDuration); keeping it
// short also reduces latency in detecting changes.
const StatusInterval = 150 * time.Millisecond

// ErrorBlinkingDuration is how long after the blinking error signal
// turns off before we are sure a blink sequence is done.
const ErrorBlinkingDuration = time.Second

// LabJack binary output conventions. The shutter wiring uses inverted
// logic: 0 enables the motor and 0 selects the open direction.
const (
	ShutterEnable  = 0
	ShutterDisable = 1

	ShutterDirectionOpen  = 0
	ShutterDirectionClose = 1
)

// KiloArc parameters for the voltage input that sets lamp power.
// The controller quantizes power in 2.3 W steps.
const (
	MinPower = 800.0
	MaxPower = 1200.0

	VoltsAtMinPower = 1.961
	VoltsAtMaxPower = 5.0

	VoltsPerWatt = (VoltsAtMaxPower - VoltsAtMinPower) / (MaxPower - MinPower)
)

// Logical channel names.
const (
	ChannelPhotosensor         = "photosensor"
	ChannelBlinkingError       = "blinking_error"
	ChannelCooldown            = "cooldown"
	ChannelStandbyOrOn         = "standby_or_on"
	ChannelErrorExists         = "error_exists"
	ChannelShutterOpen         = "shutter_open"
	ChannelShutterClosed       = "shutter_closed"
	ChannelReadLampSetVoltage  = "read_lamp_set_voltage"
	ChannelLampSetVoltage      = "lamp_set_voltage"
	ChannelShutterEnable       = "shutter_enable"
	ChannelShutterDirection    = "shutter_direction"
)

// ReadChannels maps the logical read channels to LabJack channel
// names. All digital inputs read 1 when active. The commanded power
// voltage is read back from the output register itself.
var ReadChannels = map[string]string{
	ChannelPhotosensor:        "AIN0",
	ChannelBlinkingError:      "FIO4",
	ChannelCooldown:           "FIO5",
	ChannelStandbyOrOn:        "FIO6",
	ChannelErrorExists:        "FIO7",
	ChannelShutterOpen:        "EIO4",
	ChannelShutterClosed:      "EIO6",
	ChannelReadLampSetVoltage: "DAC0",
}

// WriteChannels maps the logical write channels to LabJack channel
// names. The shutter outputs use the Shutter* constants above.
var WriteChannels = map[string]string{
	ChannelLampSetVoltage:   "DAC0",
	ChannelShutterEnable:    "EIO3",
	ChannelShutterDirection: "EIO2",
}

// VoltageFromPower computes the voltage to provide to the lamp power
// input of the KiloArc controller: 0 turns the lamp off, and powers in
// [800, 1200] W map linearly onto [1.961, 5] V. Any other power fails
// with an expected error.
func VoltageFromPower(power float64) (float64, error) {
	if power == 0 {
		return 0, nil
	}
	if power < MinPower || power > MaxPower {
		return 0, expected.Newf("power=%v must be 0 or in range [%v, %v] W",
			power, MinPower, MaxPower)
	}
	return (power-MinPower)*VoltsPerWatt + VoltsAtMinPower, nil
}

// BasicState is the lamp state inferred from the observed signals and
// the interlock timers. It is recomputed every poll and never set
// directly by a command.
type BasicState int

const (
	BasicStateUnknown BasicState = iota
	BasicStateOff
	BasicStateTurningOn
	BasicStateWarmup
	BasicStateOn
	BasicStateTurningOff
	BasicStateCooldown
	BasicStateUnexpectedlyOn
	BasicStateUnexpectedlyOff
)

// String returns the state name.
func (s BasicState) String() string {
	switch s {
	case BasicStateOff:
		return "OFF"
	case BasicStateTurningOn:
		return "TURNING_ON"
	case BasicStateWarmup:
		return "WARMUP"
	case BasicStateOn:
		return "ON"
	case BasicStateTurningOff:
		return "TURNING_OFF"
	case BasicStateCooldown:
		return "COOLDOWN"
	case BasicStateUnexpectedlyOn:
		return "UNEXPECTEDLY_ON"
	case BasicStateUnexpectedlyOff:
		return "UNEXPECTEDLY_OFF"
	default:
		return "UNKNOWN"
	}
}

// ControllerState is the KiloArc state decoded from the status inputs.
type ControllerState int

const (
	ControllerStateUnknown ControllerState = iota
	ControllerStateOff
	ControllerStateStandbyOrOn
	ControllerStateCooldown
	ControllerStateError
)

// String returns the state name.
func (s ControllerState) String() string {
	switch s {
	case ControllerStateOff:
		return "OFF"
	case ControllerStateStandbyOrOn:
		return "STANDBY_OR_ON"
	case ControllerStateCooldown:
		return "COOLDOWN"
	case ControllerStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ControllerError is a KiloArc fault code, decoded by counting the
// pulses of the blinking error signal. Codes above the highest blink
// count the controller emits decode as unknown rather than failing.
type ControllerError int

const (
	ControllerErrorNone    ControllerError = -1
	ControllerErrorUnknown ControllerError = 0
)

// maxBlinkCode is the largest blink count the controller emits.
const maxBlinkCode = 15

// controllerErrorFromBlinkCount maps a decoded blink count to an
// error code.
func controllerErrorFromBlinkCount(count int) ControllerError {
	if count < 1 || count > maxBlinkCode {
		return ControllerErrorUnknown
	}
	return ControllerError(count)
}

// String returns the error name or code.
func (e ControllerError) String() string {
	switch e {
	case ControllerErrorNone:
		return "NONE"
	case ControllerErrorUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("CODE_%d", int(e))
	}
}

// ShutterState is the shutter position derived from the two sensing
// switches. Invalid means both switches report active at once, a
// hardware contradiction; shutter moves refuse to proceed in that
// state.
type ShutterState int

const (
	ShutterStateUnknown ShutterState = iota
	ShutterStateClosed
	ShutterStateOpen
	ShutterStateInvalid
)

// String returns the state name.
func (s ShutterState) String() string {
	switch s {
	case ShutterStateClosed:
		return "CLOSED"
	case ShutterStateOpen:
		return "OPEN"
	case ShutterStateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// shutterStateFromSwitches derives the shutter state from the two
// sensing switches.
func shutterStateFromSwitches(openSwitch, closedSwitch bool) ShutterState {
	switch {
	case openSwitch && closedSwitch:
		return ShutterStateInvalid
	case openSwitch:
		return ShutterStateOpen
	case closedSwitch:
		return ShutterStateClosed
	default:
		return ShutterStateUnknown
	}
}
