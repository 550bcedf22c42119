package chiller

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
)

const testTimeout = 10 * time.Second

// testHarness bundles an engine, its mock chiller, and channels fed by
// every callback.
type testHarness struct {
	mock   *MockChiller
	engine *Engine

	temperatures chan Temperatures
	coolantFlow  chan float64
	fanSpeeds    chan FanSpeeds
	currents     chan TECBankCurrents
	tecDrive     chan TECDrive
	watchdog     chan WatchdogRecord
	alarms       chan AlarmRecord
	warnings     chan uint64
	uptime       chan int
	connected    chan bool
}

func newTestHarness(t *testing.T) *testHarness {
	return newTestHarnessIntervals(t, 10*time.Millisecond, 20*time.Millisecond)
}

// newIdleHarness uses loop intervals long enough that after the first
// telemetry set no background command runs during the test, so tests
// can reason about exactly which command a mock behavior applies to.
func newIdleHarness(t *testing.T) *testHarness {
	h := newTestHarnessIntervals(t, time.Hour, time.Hour)
	h.connect(t)
	// The TEC bank 2 current is the last command of a telemetry set;
	// once it arrives the loops are idle.
	recv(t, h.currents)
	return h
}

func newTestHarnessIntervals(t *testing.T, telemetryInterval, watchdogInterval time.Duration) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock, err := NewMockChiller(logger)
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	h := &testHarness{
		mock:         mock,
		temperatures: make(chan Temperatures, 100),
		coolantFlow:  make(chan float64, 100),
		fanSpeeds:    make(chan FanSpeeds, 100),
		currents:     make(chan TECBankCurrents, 100),
		tecDrive:     make(chan TECDrive, 100),
		watchdog:     make(chan WatchdogRecord, 100),
		alarms:       make(chan AlarmRecord, 100),
		warnings:     make(chan uint64, 100),
		uptime:       make(chan int, 100),
		connected:    make(chan bool, 100),
	}

	chillerConfig := config.Default().Chiller
	chillerConfig.Host = "127.0.0.1"
	chillerConfig.TelemetryInterval = config.Duration(telemetryInterval)
	chillerConfig.WatchdogInterval = config.Duration(watchdogInterval)

	h.engine = NewEngine(EngineConfig{
		Chiller: chillerConfig,
		Addr:    mock.Addr(),
		Slog:    logger,
		Callbacks: Callbacks{
			Temperatures:    func(v Temperatures) { h.temperatures <- v },
			CoolantFlow:     func(v float64) { h.coolantFlow <- v },
			FanSpeeds:       func(v FanSpeeds) { h.fanSpeeds <- v },
			TECBankCurrents: func(v TECBankCurrents) { h.currents <- v },
			TECDrive:        func(v TECDrive) { h.tecDrive <- v },
			Watchdog:        func(v WatchdogRecord) { h.watchdog <- v },
			Alarms:          func(v AlarmRecord) { h.alarms <- v },
			Warnings:        func(v uint64) { h.warnings <- v },
			Uptime:          func(v int) { h.uptime <- v },
			Connected:       func(v bool) { h.connected <- v },
		},
	})
	t.Cleanup(h.engine.Disconnect)
	return h
}

func (h *testHarness) connect(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, h.engine.Connect(ctx))
}

// recv waits for one value from a callback channel.
func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for callback")
		panic("unreachable")
	}
}

// drain discards buffered values so the next recv sees fresh data.
func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestEngineConnect(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)

	assert.True(t, h.engine.Connected())
	assert.True(t, h.engine.Configured())
	assert.True(t, recv(t, h.connected))

	record, err := h.engine.Watchdog()
	require.NoError(t, err)
	assert.Equal(t, ControllerStateStandby, record.ControllerState)
	assert.False(t, record.PumpRunning)
	assert.False(t, record.AlarmsPresent)
	assert.False(t, record.WarningsPresent)

	// No alarms and no warnings: zeroed records are published.
	assert.Equal(t, AlarmRecord{}, recv(t, h.alarms))
	assert.Equal(t, uint64(0), recv(t, h.warnings))

	// The configure sequence pushed the initial control temperature.
	assert.InDelta(t, 20.0, h.mock.DemandTemperature(), 1e-9)
}

func TestEngineTelemetry(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)

	temperatures := recv(t, h.temperatures)
	assert.InDelta(t, 20.0, temperatures.Set, 1e-9)
	assert.InDelta(t, 28.4, temperatures.Supply, 1e-9)
	assert.InDelta(t, 31.1, temperatures.Ambient, 1e-9)
	assert.True(t, math.IsNaN(temperatures.Return),
		"return temperature should be NaN while the sensor is excluded")

	assert.InDelta(t, 1.9, recv(t, h.coolantFlow), 1e-9)

	fans := recv(t, h.fanSpeeds)
	assert.Equal(t, FanSpeeds{Fan1: 11, Fan2: 22, Fan3: 33, Fan4: 44}, fans)

	currents := recv(t, h.currents)
	assert.InDelta(t, 1.123, currents.Bank1, 1e-9)
	assert.InDelta(t, -2.234, currents.Bank2, 1e-9)

	drive := recv(t, h.tecDrive)
	assert.True(t, drive.IsCooling)
	assert.InDelta(t, 67.0, drive.Level, 1e-9)
}

func TestEngineAlarmCascade(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)

	// 0x12 set bits survive the reversed-nibble wire encoding.
	h.mock.SetAlarms(0x12, 0x0F, 0x30001)
	drain(h.alarms)

	want := AlarmRecord{Level1: 0x12, Level21: 0x0F, Level22: 0x30001}
	deadline := time.Now().Add(testTimeout)
	for {
		record := recv(t, h.alarms)
		if record == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw alarm record %+v, last %+v", want, record)
		}
	}

	// Clearing the alarms publishes a zeroed record again.
	h.mock.SetAlarms(0, 0, 0)
	for {
		record := recv(t, h.alarms)
		if record == (AlarmRecord{}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("alarm record never cleared")
		}
	}
}

func TestEngineAlarmCascadeRestart(t *testing.T) {
	h := newIdleHarness(t)
	ctx := context.Background()

	// First cascade completes normally.
	h.mock.SetAlarms(1, 2, 3)
	drain(h.alarms)
	require.NoError(t, h.engine.RequestWatchdog(ctx))
	assert.Equal(t, AlarmRecord{Level1: 1, Level21: 2, Level22: 3}, recv(t, h.alarms))

	// A cascade interrupted after only the L2-2 read leaves a partial
	// accumulator behind.
	require.NoError(t, h.engine.handleL2Alarms("2"+FormatMask(9, 8)))

	// The next watchdog with alarms present starts a fresh cascade. The
	// stale partial read must not count toward it: the first record to
	// come out must be entirely fresh, never a mix with Level22=9.
	h.mock.SetAlarms(4, 5, 6)
	require.NoError(t, h.engine.RequestWatchdog(ctx))
	assert.Equal(t, AlarmRecord{Level1: 4, Level21: 5, Level22: 6}, recv(t, h.alarms))
}

func TestEngineTelemetryPartialGroup(t *testing.T) {
	h := newIdleHarness(t)
	ctx := context.Background()
	drain(h.fanSpeeds)

	// Three of the four fan speeds: no publish.
	for fanNum := 1; fanNum <= 3; fanNum++ {
		body, err := readFanSpeedCommand(fanNum)
		require.NoError(t, err)
		require.NoError(t, h.engine.runCommand(ctx, body))
	}
	select {
	case speeds := <-h.fanSpeeds:
		t.Fatalf("partial fan speed group published: %+v", speeds)
	default:
	}

	// The fourth completes the group: exactly one publish.
	body, err := readFanSpeedCommand(4)
	require.NoError(t, err)
	require.NoError(t, h.engine.runCommand(ctx, body))
	assert.Equal(t, FanSpeeds{Fan1: 11, Fan2: 22, Fan3: 33, Fan4: 44}, recv(t, h.fanSpeeds))
	select {
	case speeds := <-h.fanSpeeds:
		t.Fatalf("fan speed group published twice: %+v", speeds)
	default:
	}
}

func TestEngineWatchdogCascadeReadCounts(t *testing.T) {
	h := newIdleHarness(t)
	ctx := context.Background()

	// No alarms or warnings: the watchdog issues no detail reads and
	// publishes zeroed records instead.
	h.mock.ResetCommandCounts()
	drain(h.alarms)
	drain(h.warnings)
	require.NoError(t, h.engine.RequestWatchdog(ctx))
	assert.Equal(t, 1, h.mock.CommandCount(CmdWatchdog))
	assert.Equal(t, 0, h.mock.CommandCount(CmdReadL1Alarms))
	assert.Equal(t, 0, h.mock.CommandCount(CmdReadL2Alarms))
	assert.Equal(t, 0, h.mock.CommandCount(CmdReadWarnings))
	assert.Equal(t, AlarmRecord{}, recv(t, h.alarms))
	assert.Equal(t, uint64(0), recv(t, h.warnings))

	// Alarms present: exactly three detail reads follow the watchdog
	// (L1 plus both L2 sublevels) and no warnings read.
	h.mock.SetAlarms(1, 2, 3)
	h.mock.ResetCommandCounts()
	require.NoError(t, h.engine.RequestWatchdog(ctx))
	assert.Equal(t, 1, h.mock.CommandCount(CmdWatchdog))
	assert.Equal(t, 1, h.mock.CommandCount(CmdReadL1Alarms))
	assert.Equal(t, 2, h.mock.CommandCount(CmdReadL2Alarms))
	assert.Equal(t, 0, h.mock.CommandCount(CmdReadWarnings))
}

func TestEngineWarnings(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)

	h.mock.SetWarnings(0xA5)
	drain(h.warnings)

	deadline := time.Now().Add(testTimeout)
	for {
		mask := recv(t, h.warnings)
		if mask == 0xA5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw warning mask 0xA5, last %#x", mask)
		}
	}
}

func TestEngineStartStopCooling(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)
	ctx := context.Background()

	require.NoError(t, h.engine.StartCooling(ctx))
	assert.Equal(t, ControllerStateRun, h.mock.ControllerState())

	record, err := h.engine.Watchdog()
	require.NoError(t, err)
	assert.Equal(t, ControllerStateRun, record.ControllerState)
	assert.True(t, record.PumpRunning)

	require.NoError(t, h.engine.StopCooling(ctx))
	record, err = h.engine.Watchdog()
	require.NoError(t, err)
	assert.Equal(t, ControllerStateStandby, record.ControllerState)
	assert.False(t, record.PumpRunning)
}

func TestEngineSetControlTemperature(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)
	ctx := context.Background()

	require.NoError(t, h.engine.SetControlTemperature(ctx, 15.5))
	assert.InDelta(t, 15.5, h.mock.DemandTemperature(), 1e-9)
	assert.InDelta(t, 15.5, h.engine.SetTemperature(), 1e-9)

	// Outside the supply temperature warning window (10 to 30 C in the
	// default configuration): rejected before any command is sent.
	err := h.engine.SetControlTemperature(ctx, 5)
	assert.True(t, expected.Is(err), "err = %v", err)
	err = h.engine.SetControlTemperature(ctx, 35)
	assert.True(t, expected.Is(err), "err = %v", err)
	assert.InDelta(t, 15.5, h.mock.DemandTemperature(), 1e-9)
}

func TestEngineReadUptime(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)

	h.mock.SetUptimeMinutes(456)
	require.NoError(t, h.engine.ReadUptime(context.Background()))
	assert.Equal(t, 456, recv(t, h.uptime))
}

func TestEngineDeviceRejection(t *testing.T) {
	h := newIdleHarness(t)

	h.mock.RejectNext('3')
	err := h.engine.SetControlTemperature(context.Background(), 15)

	var rejection *DeviceRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, byte('3'), rejection.ErrorDigit)
}

func TestEngineDisconnect(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)
	drain(h.connected)

	h.engine.Disconnect()
	assert.False(t, h.engine.Connected())
	assert.False(t, h.engine.Configured())
	assert.False(t, recv(t, h.connected))

	_, err := h.engine.Watchdog()
	assert.ErrorIs(t, err, ErrNotConnected)

	// Idempotent.
	h.engine.Disconnect()

	// Commands fail cleanly when disconnected.
	err = h.engine.RequestWatchdog(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEngineReconnect(t *testing.T) {
	h := newTestHarness(t)
	h.connect(t)
	h.engine.Disconnect()
	h.connect(t)

	assert.True(t, h.engine.Configured())
	_, err := h.engine.Watchdog()
	assert.NoError(t, err)
}

func TestEngineStatusCallback(t *testing.T) {
	h := newTestHarness(t)

	statusCh := make(chan struct{}, 100)
	h.engine.SetStatusCallback(func() { statusCh <- struct{}{} })

	h.connect(t)
	recv(t, statusCh)

	// A controller state change fires the status callback again.
	drain(statusCh)
	require.NoError(t, h.engine.StartCooling(context.Background()))
	recv(t, statusCh)
}
