package chiller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
	"github.com/lsst-ts/ts-atwhitelight/pkg/notify"
)

// Engine errors.
var (
	// ErrNoWatchdogData indicates no watchdog reply has been seen on
	// the current connection.
	ErrNoWatchdogData = errors.New("no watchdog data seen yet")
)

// Callbacks receives decoded chiller data. Each callback is optional;
// nil callbacks are skipped. Callbacks run on the engine's goroutines
// and must not block for long.
//
// Group callbacks (Temperatures, FanSpeeds, TECBankCurrents, Alarms)
// fire only when every field of the group has been refreshed; partial
// groups are never published.
type Callbacks struct {
	Temperatures    func(Temperatures)
	CoolantFlow     func(flow float64)
	FanSpeeds       func(FanSpeeds)
	TECBankCurrents func(TECBankCurrents)
	TECDrive        func(TECDrive)
	Watchdog        func(WatchdogRecord)
	Alarms          func(AlarmRecord)
	Warnings        func(mask uint64)
	Uptime          func(minutes int)
	Connected       func(connected bool)
}

// EngineConfig configures a chiller protocol engine.
type EngineConfig struct {
	// Chiller is the device configuration: address, thresholds and
	// loop intervals.
	Chiller config.ChillerConfig

	// Addr overrides Chiller.Host:Chiller.Port when non-empty. Used to
	// point the engine at a mock.
	Addr string

	// Callbacks receive decoded data.
	Callbacks Callbacks

	// Logger receives protocol events (optional).
	Logger log.Logger

	// Slog receives debug logging (optional).
	Slog *slog.Logger
}

// Engine drives the chiller: it owns the transport client, configures
// the chiller on connect, runs the watchdog and telemetry loops, and
// decodes every reply into the Callbacks.
//
// All commands flow through runCommand, which serializes on the client
// and refuses to decode replies carrying a nonzero error digit.
type Engine struct {
	config    config.ChillerConfig
	addr      string
	callbacks Callbacks
	logger    log.Logger
	slog      *slog.Logger

	// status fires when the watchdog record or connected state changes.
	status *notify.Notifier

	mu         sync.Mutex
	client     *Client
	cancel     context.CancelFunc
	configured bool

	// latest watchdog record; nil until one is seen on this connection.
	watchdog *WatchdogRecord

	// setTemperature is the last control temperature acknowledged by
	// the chiller; NaN until one is seen.
	setTemperature float64

	// telemetry group accumulators and their pending values.
	seenTemperatures    *accumulator
	seenFanSpeeds       *accumulator
	seenTECBankCurrents *accumulator
	seenAlarms          *accumulator
	pendingTemperatures Temperatures
	pendingFanSpeeds    FanSpeeds
	pendingCurrents     TECBankCurrents
	pendingAlarms       AlarmRecord
}

// NewEngine creates a chiller engine. It does not connect.
func NewEngine(engineConfig EngineConfig) *Engine {
	if engineConfig.Logger == nil {
		engineConfig.Logger = log.NoopLogger{}
	}
	if engineConfig.Slog == nil {
		engineConfig.Slog = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	addr := engineConfig.Addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", engineConfig.Chiller.Host, engineConfig.Chiller.Port)
	}
	e := &Engine{
		config:         engineConfig.Chiller,
		addr:           addr,
		callbacks:      engineConfig.Callbacks,
		logger:         engineConfig.Logger,
		slog:           engineConfig.Slog,
		status:         &notify.Notifier{},
		setTemperature: math.NaN(),
	}
	e.resetSeen()
	return e
}

// SetStatusCallback registers a callback invoked whenever the watchdog
// record or the connected state changes. Pass nil to remove it.
func (e *Engine) SetStatusCallback(callback notify.Callback) {
	e.status.SetCallback(callback)
}

// Connected reports whether the engine has a live connection.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil && e.client.Connected()
}

// Configured reports whether the engine is connected and the
// configuration commands plus the initial watchdog have completed.
func (e *Engine) Configured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client != nil && e.client.Connected() && e.configured
}

// Watchdog returns the most recent watchdog record. It fails with
// ErrNotConnected or ErrNoWatchdogData when no record is available,
// which can only happen before Connect completes.
func (e *Engine) Watchdog() (WatchdogRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil || !e.client.Connected() {
		return WatchdogRecord{}, ErrNotConnected
	}
	if e.watchdog == nil {
		return WatchdogRecord{}, ErrNoWatchdogData
	}
	return *e.watchdog, nil
}

// SetTemperature returns the last control temperature acknowledged by
// the chiller, or NaN if none has been seen.
func (e *Engine) SetTemperature() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setTemperature
}

// Connect connects to the chiller, pushes the configured control
// temperature and all ten alarm and warning thresholds, runs an
// initial watchdog command, and starts the watchdog and telemetry
// loops. Any live connection is torn down first.
//
// When Connect returns nil the engine is configured and a watchdog
// record is available.
func (e *Engine) Connect(ctx context.Context) error {
	e.Disconnect()

	client := NewClient(ClientConfig{
		DeviceID:       e.config.DeviceID,
		Addr:           e.addr,
		ConnectTimeout: e.config.ConnectTimeout.Std(),
		CommandTimeout: e.config.CommandTimeout.Std(),
		Logger:         e.logger,
		Slog:           e.slog,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.client = client
	e.cancel = cancel
	e.resetSeen()
	e.watchdog = nil
	e.setTemperature = math.NaN()
	e.mu.Unlock()

	e.notifyConnected(true)
	e.status.Notify()

	e.slog.Debug("chiller connected; configuring")
	if err := e.configureChiller(ctx); err != nil {
		e.Disconnect()
		return fmt.Errorf("configure chiller: %w", err)
	}
	if err := e.RequestWatchdog(ctx); err != nil {
		e.Disconnect()
		return fmt.Errorf("initial watchdog: %w", err)
	}

	e.mu.Lock()
	e.configured = true
	e.mu.Unlock()

	go e.watchdogLoop(loopCtx)
	go e.telemetryLoop(loopCtx)
	e.slog.Debug("chiller connected and configured")
	return nil
}

// Disconnect stops the loops and closes the connection. It is
// idempotent and safe to call from the loops themselves.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	client := e.client
	cancel := e.cancel
	wasConnected := client != nil && client.Connected()
	e.client = nil
	e.cancel = nil
	e.configured = false
	e.watchdog = nil
	e.resetSeen()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		if err := client.Disconnect(); err != nil {
			e.slog.Warn("chiller disconnect failed", "error", err)
		}
	}
	if wasConnected {
		e.notifyConnected(false)
		e.status.Notify()
	}
}

// StartCooling commands the chiller to run and requests a watchdog
// packet so the new controller state is reported promptly.
func (e *Engine) StartCooling(ctx context.Context) error {
	return e.setChillerStatus(ctx, 1)
}

// StopCooling commands the chiller to standby and requests a watchdog
// packet so the new controller state is reported promptly.
func (e *Engine) StopCooling(ctx context.Context) error {
	return e.setChillerStatus(ctx, 0)
}

func (e *Engine) setChillerStatus(ctx context.Context, status int) error {
	body, err := setChillerStatusCommand(status)
	if err != nil {
		return err
	}
	if err := e.runCommand(ctx, body); err != nil {
		return err
	}
	return e.RequestWatchdog(ctx)
}

// SetControlTemperature commands the demand temperature (C). The value
// must lie within the configured supply temperature warning window;
// values outside it fail with an expected error before any command is
// sent.
func (e *Engine) SetControlTemperature(ctx context.Context, temperature float64) error {
	if temperature < e.config.LowSupplyTemperatureWarning {
		return expected.Newf("temperature=%v < low_supply_temperature_warning=%v",
			temperature, e.config.LowSupplyTemperatureWarning)
	}
	if temperature > e.config.HighSupplyTemperatureWarning {
		return expected.Newf("temperature=%v > high_supply_temperature_warning=%v",
			temperature, e.config.HighSupplyTemperatureWarning)
	}
	body, err := setControlTemperatureCommand(temperature)
	if err != nil {
		return err
	}
	return e.runCommand(ctx, body)
}

// SetControlSensor selects the sensor driving the control loop. The
// T257P only honors ControlSensorSupply.
func (e *Engine) SetControlSensor(ctx context.Context, sensor ControlSensor) error {
	body, err := setControlSensorCommand(sensor)
	if err != nil {
		return err
	}
	return e.runCommand(ctx, body)
}

// SetWarningThreshold sets one warning threshold. Temperatures are in
// C and may be negative; flow is in l/min and must be positive.
func (e *Engine) SetWarningThreshold(ctx context.Context, thresholdType ThresholdType, value float64) error {
	body, err := setWarningThresholdCommand(thresholdType, value)
	if err != nil {
		return err
	}
	return e.runCommand(ctx, body)
}

// SetAlarmThreshold sets one alarm threshold. Temperatures are in C
// and may be negative; flow is in l/min and must be positive.
func (e *Engine) SetAlarmThreshold(ctx context.Context, thresholdType ThresholdType, value float64) error {
	body, err := setAlarmThresholdCommand(thresholdType, value)
	if err != nil {
		return err
	}
	return e.runCommand(ctx, body)
}

// RequestWatchdog runs one watchdog command. The decoded record goes
// to the Watchdog callback and, when the watchdog reports alarms or
// warnings, triggers the detail reads.
func (e *Engine) RequestWatchdog(ctx context.Context) error {
	return e.runCommand(ctx, watchdogCommand())
}

// ReadUptime requests the chiller uptime. The decoded value goes to
// the Uptime callback.
func (e *Engine) ReadUptime(ctx context.Context) error {
	return e.runCommand(ctx, readUptimeCommand())
}

// configureChiller pushes the control temperature and all ten alarm
// and warning thresholds from the configuration.
func (e *Engine) configureChiller(ctx context.Context) error {
	// The T257P does not support control sensors other than supply,
	// so the control sensor is left alone.
	if err := e.SetControlTemperature(ctx, e.config.InitialTemperature); err != nil {
		return err
	}
	for _, threshold := range []struct {
		thresholdType ThresholdType
		alarm         float64
		warning       float64
	}{
		{ThresholdHighSupplyTemperature, e.config.HighSupplyTemperatureAlarm, e.config.HighSupplyTemperatureWarning},
		{ThresholdLowSupplyTemperature, e.config.LowSupplyTemperatureAlarm, e.config.LowSupplyTemperatureWarning},
		{ThresholdHighAmbientTemperature, e.config.HighAmbientTemperatureAlarm, e.config.HighAmbientTemperatureWarning},
		{ThresholdLowAmbientTemperature, e.config.LowAmbientTemperatureAlarm, e.config.LowAmbientTemperatureWarning},
		{ThresholdLowCoolantFlowRate, e.config.LowCoolantFlowRateAlarm, e.config.LowCoolantFlowRateWarning},
	} {
		if err := e.SetAlarmThreshold(ctx, threshold.thresholdType, threshold.alarm); err != nil {
			return err
		}
		if err := e.SetWarningThreshold(ctx, threshold.thresholdType, threshold.warning); err != nil {
			return err
		}
	}
	return nil
}

// runCommand sends one command body, verifies the reply status digit,
// and routes the decoded reply to its handler. A nonzero status digit
// yields a *DeviceRejection and the reply data is not decoded.
func (e *Engine) runCommand(ctx context.Context, body string) error {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	raw, err := client.RunCommand(ctx, body)
	if err != nil {
		return err
	}
	reply, err := ParseReply(raw)
	if err != nil {
		return fmt.Errorf("command %q: %w", body, err)
	}
	e.logReply(client.ConnectionID(), reply)

	if reply.ErrorDigit != '0' {
		rejection := &DeviceRejection{Command: body, ErrorDigit: reply.ErrorDigit}
		e.slog.Error("chiller rejected command", "command", body, "error", rejection)
		return rejection
	}
	if err := e.handleReply(ctx, reply); err != nil {
		return fmt.Errorf("handle reply to %q: %w", body, err)
	}
	return nil
}

// handleReply decodes one successful reply and publishes the decoded
// data. Replies to set commands carry no data of interest and are
// acknowledged silently.
func (e *Engine) handleReply(ctx context.Context, reply Reply) error {
	switch reply.CommandID {
	case CmdWatchdog:
		return e.handleWatchdog(ctx, reply.Data)
	case CmdReadSetTemperature:
		return e.handleTemperature(reply.Data, "set")
	case CmdReadSupplyTemperature:
		return e.handleTemperature(reply.Data, "supply")
	case CmdReadReturnTemperature:
		return e.handleTemperature(reply.Data, "return")
	case CmdReadAmbientTemperature:
		return e.handleTemperature(reply.Data, "ambient")
	case CmdReadCoolantFlowRate:
		flow, err := parseScaled(reply.Data, 10)
		if err != nil {
			return err
		}
		invokeCallback(e, e.callbacks.CoolantFlow, flow)
		return nil
	case CmdReadTECBank1Current:
		return e.handleTECBankCurrent(reply.Data, "bank1")
	case CmdReadTECBank2Current:
		return e.handleTECBankCurrent(reply.Data, "bank2")
	case CmdReadTECDriveLevel:
		return e.handleTECDriveLevel(reply.Data)
	case CmdReadL1Alarms:
		return e.handleL1Alarms(reply.Data)
	case CmdReadL2Alarms:
		return e.handleL2Alarms(reply.Data)
	case CmdReadWarnings:
		mask, err := ParseMask(reply.Data)
		if err != nil {
			return err
		}
		invokeCallback(e, e.callbacks.Warnings, mask)
		return nil
	case CmdReadUptime:
		minutes, err := strconv.Atoi(reply.Data)
		if err != nil {
			return fmt.Errorf("cannot parse uptime %q: %w", reply.Data, err)
		}
		invokeCallback(e, e.callbacks.Uptime, minutes)
		return nil
	case CmdReadFanSpeed1, CmdReadFanSpeed2, CmdReadFanSpeed3, CmdReadFanSpeed4:
		return e.handleFanSpeed(reply.CommandID, reply.Data)
	case CmdSetControlTemperature:
		temperature, err := parseScaled(reply.Data, 10)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.setTemperature = temperature
		e.mu.Unlock()
		return nil
	case CmdSetChillerStatus, CmdSetControlSensor,
		CmdSetHighSupplyTempWarn, CmdSetLowSupplyTempWarn,
		CmdSetHighAmbientTempWarn, CmdSetLowAmbientTempWarn,
		CmdSetLowCoolantFlowWarn,
		CmdSetHighSupplyTempAlarm, CmdSetLowSupplyTempAlarm,
		CmdSetHighAmbientTempAlarm, CmdSetLowAmbientTempAlarm,
		CmdSetLowCoolantFlowAlarm:
		return nil
	default:
		e.slog.Warn("ignoring reply with unsupported command ID",
			"command_id", string(reply.CommandID), "data", reply.Data)
		return nil
	}
}

// handleWatchdog decodes the watchdog packet and runs the follow-up
// reads: detailed alarms when alarms are present, detailed warnings
// when warnings are present. When no alarms or warnings are present a
// zeroed record is published so subscribers see the all-clear.
//
// Unparseable watchdog data assumes the worst: UNKNOWN state, pump
// stopped, alarms and warnings present.
func (e *Engine) handleWatchdog(ctx context.Context, data string) error {
	record := WatchdogRecord{
		ControllerState: ControllerStateUnknown,
		PumpRunning:     false,
		AlarmsPresent:   true,
		WarningsPresent: true,
	}
	if len(data) >= 4 {
		if state, err := strconv.Atoi(data[0:1]); err == nil &&
			state >= int(ControllerStateUnknown) && state <= int(ControllerStateTest) {
			record.ControllerState = ControllerState(state)
			record.PumpRunning = data[1] == '1'
			record.AlarmsPresent = data[2] == '1'
			record.WarningsPresent = data[3] == '1'
		} else {
			e.slog.Error("cannot parse watchdog data; assuming the worst", "data", data)
		}
	} else {
		e.slog.Error("watchdog data too short; assuming the worst", "data", data)
	}

	e.mu.Lock()
	previous := e.watchdog
	e.watchdog = &record
	changed := previous == nil || *previous != record
	if record.AlarmsPresent {
		// Every cascade refills the whole record from scratch; a reset
		// here discards any half-finished cascade so its stale masks
		// never mix into the next published record.
		e.seenAlarms.reset()
		e.pendingAlarms = AlarmRecord{}
	}
	e.mu.Unlock()

	if changed {
		oldState := ControllerStateUnknown
		if previous != nil {
			oldState = previous.ControllerState
		}
		e.logStateChange("chillerControllerState",
			oldState.String(), record.ControllerState.String(), "watchdog")
	}
	invokeCallback(e, e.callbacks.Watchdog, record)

	if record.AlarmsPresent {
		if err := e.runCommand(ctx, readL1AlarmsCommand()); err != nil {
			return err
		}
		for _, sublevel := range []int{1, 2} {
			body, err := readL2AlarmsCommand(sublevel)
			if err != nil {
				return err
			}
			if err := e.runCommand(ctx, body); err != nil {
				return err
			}
		}
	} else {
		invokeCallback(e, e.callbacks.Alarms, AlarmRecord{})
	}

	if record.WarningsPresent {
		if err := e.runCommand(ctx, readWarningsCommand()); err != nil {
			return err
		}
	} else {
		invokeCallback(e, e.callbacks.Warnings, uint64(0))
	}

	if changed {
		e.status.Notify()
	}
	return nil
}

func (e *Engine) handleTemperature(data, field string) error {
	value, err := parseScaled(data, 10)
	if err != nil {
		return err
	}

	e.mu.Lock()
	switch field {
	case "set":
		e.pendingTemperatures.Set = value
	case "supply":
		e.pendingTemperatures.Supply = value
	case "return":
		e.pendingTemperatures.Return = value
	case "ambient":
		e.pendingTemperatures.Ambient = value
	}
	complete := e.seenTemperatures.add(field)
	group := e.pendingTemperatures
	if complete && !readReturnTemperature {
		group.Return = math.NaN()
	}
	e.mu.Unlock()

	if complete {
		invokeCallback(e, e.callbacks.Temperatures, group)
	}
	return nil
}

func (e *Engine) handleFanSpeed(commandID CommandID, data string) error {
	speed, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return fmt.Errorf("cannot parse fan speed %q: %w", data, err)
	}

	e.mu.Lock()
	switch commandID {
	case CmdReadFanSpeed1:
		e.pendingFanSpeeds.Fan1 = speed
	case CmdReadFanSpeed2:
		e.pendingFanSpeeds.Fan2 = speed
	case CmdReadFanSpeed3:
		e.pendingFanSpeeds.Fan3 = speed
	case CmdReadFanSpeed4:
		e.pendingFanSpeeds.Fan4 = speed
	}
	complete := e.seenFanSpeeds.add(string(commandID))
	group := e.pendingFanSpeeds
	e.mu.Unlock()

	if complete {
		invokeCallback(e, e.callbacks.FanSpeeds, group)
	}
	return nil
}

func (e *Engine) handleTECBankCurrent(data, field string) error {
	current, err := parseScaled(data, 1000)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if field == "bank1" {
		e.pendingCurrents.Bank1 = current
	} else {
		e.pendingCurrents.Bank2 = current
	}
	complete := e.seenTECBankCurrents.add(field)
	group := e.pendingCurrents
	e.mu.Unlock()

	if complete {
		invokeCallback(e, e.callbacks.TECBankCurrents, group)
	}
	return nil
}

// handleTECDriveLevel decodes "ddd,C" (cooling) or "ddd,H" (heating),
// where ddd is the drive level in percent.
func (e *Engine) handleTECDriveLevel(data string) error {
	if len(data) < 5 {
		return fmt.Errorf("TEC drive data %q too short", data)
	}
	var isCooling bool
	switch data[4] {
	case 'C':
		isCooling = true
	case 'H':
		isCooling = false
	default:
		return fmt.Errorf("unrecognized TEC drive mode %q; should be C or H", data[4])
	}
	level, err := strconv.ParseFloat(data[:3], 64)
	if err != nil {
		return fmt.Errorf("cannot parse TEC drive level %q: %w", data, err)
	}
	invokeCallback(e, e.callbacks.TECDrive, TECDrive{IsCooling: isCooling, Level: level})
	return nil
}

func (e *Engine) handleL1Alarms(data string) error {
	mask, err := ParseMask(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pendingAlarms.Level1 = mask
	complete := e.seenAlarms.add("level1")
	record := e.pendingAlarms
	e.mu.Unlock()

	if complete {
		invokeCallback(e, e.callbacks.Alarms, record)
	}
	return nil
}

// handleL2Alarms decodes a level 2 alarm reply: the first data char is
// the sublevel (1 or 2), the rest is the mask.
func (e *Engine) handleL2Alarms(data string) error {
	if len(data) < 2 {
		return fmt.Errorf("L2 alarm data %q too short", data)
	}
	mask, err := ParseMask(data[1:])
	if err != nil {
		return err
	}

	var field string
	switch data[0] {
	case '1':
		field = "level21"
	case '2':
		field = "level22"
	default:
		return fmt.Errorf("cannot parse L2 alarm data %q: bad sublevel", data)
	}

	e.mu.Lock()
	if field == "level21" {
		e.pendingAlarms.Level21 = mask
	} else {
		e.pendingAlarms.Level22 = mask
	}
	complete := e.seenAlarms.add(field)
	record := e.pendingAlarms
	e.mu.Unlock()

	if complete {
		invokeCallback(e, e.callbacks.Alarms, record)
	}
	return nil
}

// watchdogLoop runs a watchdog command at the configured interval.
// Watchdog data is more important than telemetry: it reports whether
// the chiller is running and whether there are alarms. It starts by
// sleeping, since Connect runs a watchdog command.
func (e *Engine) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.WatchdogInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.slog.Debug("watchdog loop ends")
			return
		case <-ticker.C:
			if err := e.RequestWatchdog(ctx); err != nil {
				if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
					e.slog.Debug("watchdog loop ends")
					return
				}
				e.slog.Error("watchdog loop failed; disconnecting", "error", err)
				// Disconnect cancels this loop's context, so it must
				// not be awaited from here.
				go e.Disconnect()
				return
			}
		}
	}
}

// telemetryLoop runs one full set of telemetry reads, pauses for the
// configured interval, and repeats.
func (e *Engine) telemetryLoop(ctx context.Context) {
	for {
		if err := e.readTelemetrySet(ctx); err != nil {
			if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
				e.slog.Debug("telemetry loop ends")
				return
			}
			e.slog.Error("telemetry loop failed; disconnecting", "error", err)
			go e.Disconnect()
			return
		}
		select {
		case <-ctx.Done():
			e.slog.Debug("telemetry loop ends")
			return
		case <-time.After(e.config.TelemetryInterval.Std()):
		}
	}
}

// readTelemetrySet runs every telemetry read once: temperatures,
// coolant flow, fan speeds, TEC drive level and TEC bank currents.
func (e *Engine) readTelemetrySet(ctx context.Context) error {
	bodies := []string{
		readSetTemperatureCommand(),
		readSupplyTemperatureCommand(),
	}
	if readReturnTemperature {
		bodies = append(bodies, readReturnTemperatureCommand())
	}
	bodies = append(bodies,
		readAmbientTemperatureCommand(),
		readCoolantFlowRateCommand(),
	)
	for fanNum := 1; fanNum <= numFans; fanNum++ {
		body, err := readFanSpeedCommand(fanNum)
		if err != nil {
			return err
		}
		bodies = append(bodies, body)
	}
	bodies = append(bodies,
		readTECDriveLevelCommand(),
		readTECBank1Command(),
		readTECBank2Command(),
	)
	for _, body := range bodies {
		if err := e.runCommand(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resetSeen() {
	e.seenTemperatures = newAccumulator(numExpectedTemperatures())
	e.seenFanSpeeds = newAccumulator(numFans)
	e.seenTECBankCurrents = newAccumulator(2)
	e.seenAlarms = newAccumulator(3)
	e.pendingTemperatures = Temperatures{}
	e.pendingFanSpeeds = FanSpeeds{}
	e.pendingCurrents = TECBankCurrents{}
	e.pendingAlarms = AlarmRecord{}
}

// invokeCallback invokes a callback, recovering from panics so a
// misbehaving subscriber cannot kill a protocol loop. Callbacks are
// generic so each call site stays type-checked.
func invokeCallback[T any](e *Engine, callback func(T), value T) {
	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.slog.Error("chiller callback panicked", "panic", r)
		}
	}()
	callback(value)
}

func (e *Engine) notifyConnected(connected bool) {
	invokeCallback(e, e.callbacks.Connected, connected)
}

// parseScaled parses an integer field and divides by scale, the
// inverse of FormatValue.
func parseScaled(data string, scale float64) (float64, error) {
	n, err := strconv.Atoi(data)
	if err != nil {
		return 0, fmt.Errorf("cannot parse value %q: %w", data, err)
	}
	return float64(n) / scale, nil
}

func (e *Engine) logReply(connID string, reply Reply) {
	e.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Source:       log.SourceChiller,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryCommand,
		Command: &log.CommandEvent{
			CommandID:  string(reply.CommandID),
			Mnemonic:   reply.Mnemonic,
			Data:       reply.Data,
			ErrorDigit: string(reply.ErrorDigit),
		},
	})
}

func (e *Engine) logStateChange(entity, oldState, newState, reason string) {
	e.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceChiller,
		Direction: log.DirectionNone,
		Layer:     log.LayerDevice,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
