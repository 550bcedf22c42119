package lamp

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockConn simulates the LabJack wired to the KiloArc controller for
// tests and the simulation mode of the daemon.
//
// The simulation follows the commanded lamp voltage: the photosensor
// reports light while the lamp is on (after ConfirmDelay), the status
// outputs report cooldown for CooldownDuration after the lamp turns
// off, and the shutter travels for ShutterDuration once its motor is
// enabled. SetError drives the blinking error signal with the pulse
// train the real controller emits for that code.
type MockConn struct {
	mu sync.Mutex

	open bool

	// OpenError, when set, makes Open fail.
	OpenError error

	// CooldownDuration is how long the controller's own cooldown
	// output stays on after the lamp turns off. Kept shorter than any
	// realistic configured cooldown period.
	CooldownDuration time.Duration

	// ConfirmDelay is how long after a power change before the
	// photosensor follows it.
	ConfirmDelay time.Duration

	// ShutterDuration is how long the shutter takes to travel.
	ShutterDuration time.Duration

	stickLampOn  bool
	stickLampOff bool

	lampVoltage    float64
	lampOnTime     time.Time
	lampOffTime    time.Time
	everCommanded  bool

	shutterOpenSwitch   bool
	shutterClosedSwitch bool
	switchOverride      *[2]bool
	shutterEnabled      bool
	doOpenShutter       bool
	moveStart           time.Time

	errorCode  int
	errorStart time.Time

	physicalToLogical map[string]string
}

// NewMockConn creates a mock with the shutter closed and the lamp off.
func NewMockConn() *MockConn {
	names := make(map[string]string, len(ReadChannels)+len(WriteChannels))
	for label, name := range ReadChannels {
		names[name] = label
	}
	for label, name := range WriteChannels {
		names[name] = label
	}
	return &MockConn{
		CooldownDuration:    4 * time.Second,
		ShutterDuration:     time.Second,
		shutterClosedSwitch: true,
		physicalToLogical:   names,
	}
}

// Open implements Conn.
func (m *MockConn) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenError != nil {
		return m.OpenError
	}
	m.open = true
	return nil
}

// Close implements Conn.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// SetError starts the blinking error signal reporting the given code.
// Pass 0 to clear the error.
func (m *MockConn) SetError(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCode = code
	m.errorStart = time.Now()
}

// SetShutterSwitches overrides both shutter sensing switches, e.g. to
// simulate the contradictory both-active state.
func (m *MockConn) SetShutterSwitches(openSwitch, closedSwitch bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchOverride = &[2]bool{openSwitch, closedSwitch}
}

// ClearShutterSwitches removes the switch override.
func (m *MockConn) ClearShutterSwitches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchOverride = nil
}

// SetStickLampOn makes the photosensor keep reporting light even
// after the lamp is commanded off (a stuck-on bulb). Pass false to
// let the bulb die.
func (m *MockConn) SetStickLampOn(stick bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stickLampOn = stick
}

// SetStickLampOff keeps the photosensor dark even while the lamp is
// commanded on (a dead bulb).
func (m *MockConn) SetStickLampOff(stick bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stickLampOff = stick
}

// LampVoltage returns the last commanded lamp voltage.
func (m *MockConn) LampVoltage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lampVoltage
}

// ShutterEnabled reports whether the shutter motor is enabled.
func (m *MockConn) ShutterEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutterEnabled
}

// lampLit reports whether the photosensor sees light.
func (m *MockConn) lampLit(now time.Time) bool {
	if m.stickLampOff {
		return false
	}
	if m.lampVoltage > 0 {
		return m.everCommanded && now.Sub(m.lampOnTime) >= m.ConfirmDelay
	}
	if m.stickLampOn && m.everCommanded {
		return true
	}
	return false
}

// blinking returns the blinking error signal for the current time.
// The controller blinks the error code: 0.5 s on, 0.5 s off per pulse,
// then a 1.5 s gap, repeating.
func (m *MockConn) blinking(now time.Time) bool {
	if m.errorCode <= 0 {
		return false
	}
	cycle := float64(m.errorCode) + 1.5
	phase := math.Mod(now.Sub(m.errorStart).Seconds(), cycle)
	return phase < float64(m.errorCode) && math.Mod(phase, 1.0) < 0.5
}

// ReadNames implements Conn.
func (m *MockConn) ReadNames(names []string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil, errors.New("mock device not open")
	}

	now := time.Now()

	// Resolve shutter travel.
	if m.shutterEnabled && now.Sub(m.moveStart) >= m.ShutterDuration {
		if m.doOpenShutter {
			m.shutterOpenSwitch = true
		} else {
			m.shutterClosedSwitch = true
		}
	}

	lit := m.lampLit(now)
	errorExists := m.errorCode > 0

	var standbyOrOn, cooldown bool
	switch {
	case m.lampVoltage > 0:
		standbyOrOn = true
	case m.everCommanded && now.Sub(m.lampOffTime) < m.CooldownDuration:
		cooldown = true
	default:
		standbyOrOn = true
	}

	openSwitch, closedSwitch := m.shutterOpenSwitch, m.shutterClosedSwitch
	if m.switchOverride != nil {
		openSwitch, closedSwitch = m.switchOverride[0], m.switchOverride[1]
	}

	values := make([]float64, len(names))
	for i, name := range names {
		switch m.physicalToLogical[name] {
		case ChannelPhotosensor:
			if lit {
				values[i] = 1.0
			} else {
				values[i] = 0.02
			}
		case ChannelBlinkingError:
			values[i] = boolValue(m.blinking(now))
		case ChannelCooldown:
			values[i] = boolValue(cooldown)
		case ChannelStandbyOrOn:
			values[i] = boolValue(standbyOrOn)
		case ChannelErrorExists:
			values[i] = boolValue(errorExists)
		case ChannelShutterOpen:
			values[i] = boolValue(openSwitch)
		case ChannelShutterClosed:
			values[i] = boolValue(closedSwitch)
		case ChannelReadLampSetVoltage:
			values[i] = m.lampVoltage
		default:
			return nil, fmt.Errorf("unrecognized channel %q", name)
		}
	}
	return values, nil
}

// WriteNames implements Conn.
func (m *MockConn) WriteNames(names []string, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errors.New("mock device not open")
	}
	if len(names) != len(values) {
		return fmt.Errorf("%d names but %d values", len(names), len(values))
	}

	now := time.Now()
	for i, name := range names {
		value := values[i]
		switch m.physicalToLogical[name] {
		case ChannelLampSetVoltage:
			if value > 0 && m.lampVoltage == 0 {
				m.lampOnTime = now
				m.everCommanded = true
			}
			if value == 0 && m.lampVoltage > 0 {
				m.lampOffTime = now
			}
			m.lampVoltage = value
		case ChannelShutterDirection:
			m.doOpenShutter = value == ShutterDirectionOpen
		case ChannelShutterEnable:
			enable := value == ShutterEnable
			if enable && !m.shutterEnabled {
				m.moveStart = now
				// Moving away from the current end stop releases its
				// switch immediately.
				if m.doOpenShutter {
					m.shutterClosedSwitch = false
				} else {
					m.shutterOpenSwitch = false
				}
			}
			m.shutterEnabled = enable
		default:
			return fmt.Errorf("unrecognized channel %q", name)
		}
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
