package chiller

// numFans is the number of chassis fans the chiller reports on.
const numFans = 4

// readReturnTemperature gates command 07. The return temperature
// sensor on the production T257P gives unrealistic readings, so it is
// excluded from the telemetry cycle and the temperature group expects
// one fewer field.
const readReturnTemperature = false

// numExpectedTemperatures is the size of the temperature telemetry group.
func numExpectedTemperatures() int {
	if readReturnTemperature {
		return 4
	}
	return 3
}

// ControllerState is the chiller controller state reported in the
// watchdog reply.
type ControllerState int

const (
	ControllerStateUnknown ControllerState = iota
	ControllerStateAutostart
	ControllerStateStandby
	ControllerStateRun
	ControllerStateSafety
	ControllerStateTest
)

// String returns the state name.
func (s ControllerState) String() string {
	switch s {
	case ControllerStateAutostart:
		return "AUTOSTART"
	case ControllerStateStandby:
		return "STANDBY"
	case ControllerStateRun:
		return "RUN"
	case ControllerStateSafety:
		return "SAFETY"
	case ControllerStateTest:
		return "TEST"
	default:
		return "UNKNOWN"
	}
}

// WatchdogRecord is the decoded watchdog reply: the minimum state
// needed to decide whether the chiller is running and healthy.
type WatchdogRecord struct {
	ControllerState ControllerState
	PumpRunning     bool
	AlarmsPresent   bool
	WarningsPresent bool
}

// AlarmRecord holds the three detailed alarm masks. It is published
// only once all three reads of a watchdog-triggered cascade have been
// seen, or immediately zeroed when the watchdog reports no alarms.
type AlarmRecord struct {
	Level1  uint64
	Level21 uint64
	Level22 uint64
}

// Temperatures is one complete temperature telemetry group (C).
// Return is NaN when the return sensor is excluded.
type Temperatures struct {
	Set     float64
	Supply  float64
	Return  float64
	Ambient float64
}

// FanSpeeds is one complete fan speed telemetry group (rev/s).
type FanSpeeds struct {
	Fan1 float64
	Fan2 float64
	Fan3 float64
	Fan4 float64
}

// TECBankCurrents is one complete TEC bank current group (A).
type TECBankCurrents struct {
	Bank1 float64
	Bank2 float64
}

// TECDrive is the TEC drive level (percent) and mode.
type TECDrive struct {
	IsCooling bool
	Level     float64
}

// accumulator tracks which fields of a multi-command telemetry group
// have been seen since the last flush. A group flushes exactly when
// the seen count reaches the expected count; partial groups are never
// published.
type accumulator struct {
	seen     map[string]struct{}
	expected int
}

func newAccumulator(expected int) *accumulator {
	return &accumulator{
		seen:     make(map[string]struct{}),
		expected: expected,
	}
}

// add marks a field seen and reports whether the group is now complete.
// On completion the seen set is reset.
func (a *accumulator) add(field string) bool {
	a.seen[field] = struct{}{}
	if len(a.seen) >= a.expected {
		a.reset()
		return true
	}
	return false
}

// reset clears the seen set. Call on connect, disconnect and flush so
// partial state never leaks across reconnects.
func (a *accumulator) reset() {
	a.seen = make(map[string]struct{})
}
