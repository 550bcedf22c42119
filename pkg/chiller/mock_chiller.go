package chiller

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
)

// MockChiller mocks the ThermoTek T257P TCP/IP interface for tests and
// the simulation mode of the daemon. It listens on an ephemeral
// loopback port and serves one command at a time per connection.
//
// The Set* methods program the replies to query commands; the set
// commands (status, control temperature) manage their own state the
// way the real chiller does. Unknown commands echo their data back,
// matching the pass-through behavior of the hardware's RS-232 bridge.
type MockChiller struct {
	listener net.Listener
	slog     *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	mu sync.Mutex

	// Alarm and warning masks reported by the detail reads; the
	// watchdog reports alarmsPresent/warningsPresent from these.
	l1Alarms  uint64
	l21Alarms uint64
	l22Alarms uint64
	warnings  uint64

	// Temperatures in C, reported rounded to 0.1.
	ambientTemperature float64
	returnTemperature  float64
	supplyTemperature  float64

	// Coolant flow rate in l/min, reported rounded to 0.1.
	coolantFlowRate float64

	// Fan speeds in rev/s, reported rounded to 1.
	fanSpeeds [numFans]float64

	// TEC bank currents in A, reported rounded to 0.001.
	tecBankCurrents [2]float64

	// TEC drive level in percent, reported rounded to 1.
	tecDriveLevel float64
	isCooling     bool

	uptimeMinutes int

	// The T257P only supports the supply control sensor and rejects
	// attempts to change it to anything else.
	controlSensor ControlSensor

	// Managed by commands.
	controllerState   ControllerState
	pumpRunning       bool
	demandTemperature float64

	// rejectDigit, when nonzero, is returned as the error digit of the
	// next reply and then cleared.
	rejectDigit byte

	// commandCounts tracks how many times each command has been served,
	// so tests can assert on exactly which reads a behavior triggered.
	commandCounts map[CommandID]int
}

// NewMockChiller starts a mock chiller on an ephemeral loopback port.
func NewMockChiller(logger *slog.Logger) (*MockChiller, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("mock chiller listen: %w", err)
	}
	m := &MockChiller{
		listener: listener,
		slog:     logger,
		closed:   make(chan struct{}),

		ambientTemperature: 31.1,
		returnTemperature:  29.2,
		supplyTemperature:  28.4,
		coolantFlowRate:    1.9,
		fanSpeeds:          [numFans]float64{11, 22, 33, 44},
		tecBankCurrents:    [2]float64{1.123, -2.234},
		tecDriveLevel:      67,
		isCooling:          true,
		uptimeMinutes:      456,
		controlSensor:      ControlSensorSupply,
		controllerState:    ControllerStateStandby,
		demandTemperature:  20,
		commandCounts:      make(map[CommandID]int),
	}
	m.wg.Add(1)
	go m.serve()
	return m, nil
}

// Addr returns the host:port the mock is listening on.
func (m *MockChiller) Addr() string {
	return m.listener.Addr().String()
}

// Close stops the mock and closes all connections.
func (m *MockChiller) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		err = m.listener.Close()
	})
	m.wg.Wait()
	return err
}

// SetAlarms programs the three alarm masks. Nonzero masks make the
// watchdog report alarmsPresent.
func (m *MockChiller) SetAlarms(level1, level21, level22 uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.l1Alarms = level1
	m.l21Alarms = level21
	m.l22Alarms = level22
}

// SetWarnings programs the warning mask. A nonzero mask makes the
// watchdog report warningsPresent.
func (m *MockChiller) SetWarnings(mask uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = mask
}

// SetTemperatures programs the reported temperatures (C).
func (m *MockChiller) SetTemperatures(supply, returnTemp, ambient float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplyTemperature = supply
	m.returnTemperature = returnTemp
	m.ambientTemperature = ambient
}

// SetCoolantFlowRate programs the reported coolant flow rate (l/min).
func (m *MockChiller) SetCoolantFlowRate(flow float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolantFlowRate = flow
}

// SetUptimeMinutes programs the reported uptime.
func (m *MockChiller) SetUptimeMinutes(minutes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uptimeMinutes = minutes
}

// RejectNext makes the next reply carry the given error digit,
// simulating a command rejection. Digit must be '1' through '5'.
func (m *MockChiller) RejectNext(digit byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectDigit = digit
}

// CommandCount reports how many times the mock has served commandID.
// Both L2 alarm sublevels count under CmdReadL2Alarms.
func (m *MockChiller) CommandCount(commandID CommandID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commandCounts[commandID]
}

// ResetCommandCounts zeroes all command counts.
func (m *MockChiller) ResetCommandCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandCounts = make(map[CommandID]int)
}

// ControllerState returns the current controller state.
func (m *MockChiller) ControllerState() ControllerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllerState
}

// DemandTemperature returns the last commanded control temperature (C).
func (m *MockChiller) DemandTemperature() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demandTemperature
}

func (m *MockChiller) serve() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.closed:
			default:
				m.slog.Error("mock chiller accept failed", "error", err)
			}
			return
		}
		m.wg.Add(1)
		go m.handleConn(conn)
	}
}

func (m *MockChiller) handleConn(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()

	// Close the connection when the mock shuts down so the read below
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-m.closed:
			conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadString(FrameTerminator)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				m.slog.Debug("mock chiller connection closed", "error", err)
			}
			return
		}
		reply, err := m.handleCommand(frame)
		if err != nil {
			m.slog.Error("mock chiller command failed", "frame", frame, "error", err)
			return
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			m.slog.Debug("mock chiller write failed", "error", err)
			return
		}
	}
}

// handleCommand decodes one command frame and builds the full reply
// frame, including checksum and terminator.
func (m *MockChiller) handleCommand(frame string) (string, error) {
	// Full frame: SOC + device ID + body (>= 10 chars) + checksum + CR.
	if len(frame) < MinCommandLen+6 {
		return "", fmt.Errorf("command frame %q too short", frame)
	}
	command := frame[:len(frame)-3]
	commandID := CommandID(command[3:5])
	commandData := command[13:]

	m.mu.Lock()
	errorDigit := byte('0')
	if m.rejectDigit != 0 {
		errorDigit = m.rejectDigit
		m.rejectDigit = 0
	}
	m.mu.Unlock()

	var data string
	if errorDigit == '0' {
		var err error
		data, err = m.dispatch(commandID, commandData)
		if err != nil {
			return "", err
		}
	}

	replyBody := "#" + command[1:5] + string(errorDigit) + command[5:13] + data
	return replyBody + Checksum(replyBody) + string(FrameTerminator), nil
}

func (m *MockChiller) dispatch(commandID CommandID, data string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandCounts[commandID]++

	switch commandID {
	case CmdWatchdog:
		alarmsPresent := boolDigit(m.l1Alarms != 0 || m.l21Alarms != 0 || m.l22Alarms != 0)
		warningsPresent := boolDigit(m.warnings != 0)
		return fmt.Sprintf("%d%s%s%s",
			m.controllerState, boolDigit(m.pumpRunning), alarmsPresent, warningsPresent), nil
	case CmdReadSetTemperature:
		return FormatValue(m.demandTemperature, 10, 5, true)
	case CmdReadSupplyTemperature:
		return FormatValue(m.supplyTemperature, 10, 5, true)
	case CmdReadReturnTemperature:
		return FormatValue(m.returnTemperature, 10, 5, true)
	case CmdReadAmbientTemperature:
		return FormatValue(m.ambientTemperature, 10, 5, true)
	case CmdReadCoolantFlowRate:
		if m.coolantFlowRate < 0 {
			return "", fmt.Errorf("coolant flow rate %v must not be negative", m.coolantFlowRate)
		}
		return FormatValue(m.coolantFlowRate, 10, 5, true)
	case CmdReadTECBank1Current:
		return FormatValue(m.tecBankCurrents[0], 1000, 5, true)
	case CmdReadTECBank2Current:
		return FormatValue(m.tecBankCurrents[1], 1000, 5, true)
	case CmdReadTECDriveLevel:
		level, err := FormatValue(m.tecDriveLevel, 1, 3, false)
		if err != nil {
			return "", err
		}
		mode := "H"
		if m.isCooling {
			mode = "C"
		}
		return level + "," + mode, nil
	case CmdSetChillerStatus:
		switch data {
		case "0":
			m.controllerState = ControllerStateStandby
			m.pumpRunning = false
		case "1":
			m.controllerState = ControllerStateRun
			m.pumpRunning = true
		default:
			m.slog.Warn("unrecognized chiller status; leaving state unchanged", "data", data)
		}
		return data, nil
	case CmdSetControlSensor:
		sensor, err := strconv.Atoi(data)
		if err != nil {
			return "", fmt.Errorf("cannot parse control sensor %q: %w", data, err)
		}
		m.controlSensor = ControlSensor(sensor)
		return data, nil
	case CmdSetControlTemperature:
		value, err := strconv.Atoi(data)
		if err != nil {
			return "", fmt.Errorf("cannot parse control temperature %q: %w", data, err)
		}
		m.demandTemperature = float64(value) / 10
		return data, nil
	case CmdReadL1Alarms:
		return FormatMask(m.l1Alarms, 6), nil
	case CmdReadL2Alarms:
		switch data {
		case "1":
			return data + FormatMask(m.l21Alarms, 8), nil
		case "2":
			return data + FormatMask(m.l22Alarms, 8), nil
		default:
			return "", fmt.Errorf("invalid L2 alarm sublevel %q", data)
		}
	case CmdReadWarnings:
		return FormatMask(m.warnings, 8), nil
	case CmdReadUptime:
		return FormatValue(float64(m.uptimeMinutes), 1, 6, false)
	case CmdReadFanSpeed1, CmdReadFanSpeed2, CmdReadFanSpeed3, CmdReadFanSpeed4:
		return FormatValue(m.fanSpeeds[fanIndex(commandID)-1], 1, 4, false)
	case CmdSetHighSupplyTempWarn, CmdSetLowSupplyTempWarn,
		CmdSetHighAmbientTempWarn, CmdSetLowAmbientTempWarn,
		CmdSetLowCoolantFlowWarn,
		CmdSetHighSupplyTempAlarm, CmdSetLowSupplyTempAlarm,
		CmdSetHighAmbientTempAlarm, CmdSetLowAmbientTempAlarm,
		CmdSetLowCoolantFlowAlarm:
		// Thresholds are accepted and ignored.
		return data, nil
	default:
		// Echo unknown commands.
		return data, nil
	}
}

// fanIndex maps a fan speed command ID (50-53) to the fan number (1-4).
func fanIndex(commandID CommandID) int {
	n, _ := strconv.Atoi(string(commandID))
	return n - 49
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
