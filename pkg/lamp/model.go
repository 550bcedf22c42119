package lamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
	"github.com/lsst-ts/ts-atwhitelight/pkg/notify"
)

// lightThreshold is the photosensor voltage above which the lamp is
// considered lit.
const lightThreshold = 0.5

// State is the aggregated lamp state published on every change.
type State struct {
	BasicState      BasicState
	ControllerState ControllerState
	ControllerError ControllerError

	// SetPower is the commanded lamp power (W); 0 when off.
	SetPower float64

	// CooldownEndTime and WarmupEndTime are zero when the relevant
	// timer is not running.
	CooldownEndTime time.Time
	WarmupEndTime   time.Time
}

// ShutterStatus is the shutter position and motor state.
type ShutterStatus struct {
	Commanded ShutterState
	Actual    ShutterState
	Enabled   bool
}

// ModelCallbacks receives lamp state updates. Each callback is
// optional; nil callbacks are skipped. Callbacks run on the model's
// goroutines and must not block for long.
type ModelCallbacks struct {
	State     func(State)
	Shutter   func(ShutterStatus)
	Connected func(connected bool)

	// OnHours reports the hours the bulb was lit, once per on/off
	// cycle, when the lamp turns off.
	OnHours func(hours float64)
}

// ModelConfig configures a lamp model.
type ModelConfig struct {
	// Lamp is the device configuration: timeouts, interlock periods
	// and default power.
	Lamp config.LampConfig

	// Conn is the low-level device connection, typically the vendor
	// binding or a MockConn.
	Conn Conn

	// Callbacks receive state updates.
	Callbacks ModelCallbacks

	// Logger receives protocol events (optional).
	Logger log.Logger

	// Slog receives debug logging (optional).
	Slog *slog.Logger
}

// pendingOp is one outstanding turn-on or turn-off intent. The result
// channel is buffered and receives exactly one error (nil on success);
// a pending op is never abandoned unresolved.
type pendingOp struct {
	result chan error
}

func newPendingOp() *pendingOp {
	return &pendingOp{result: make(chan error, 1)}
}

// Model is the lamp state machine. It polls the I/O adapter at a fixed
// fast interval, decodes the blinking error pulse train, derives the
// basic, controller and shutter states, enforces the warmup and
// cooldown interlocks, and exposes turn-on, turn-off and move-shutter
// operations that complete only when the hardware confirms the result.
type Model struct {
	config    config.LampConfig
	adapter   *Adapter
	callbacks ModelCallbacks
	logger    log.Logger
	slog      *slog.Logger

	// status fires when the lamp state or connected flag changes.
	status *notify.Notifier

	// shutterMu serializes shutter moves.
	shutterMu sync.Mutex

	mu         sync.Mutex
	connected  bool
	cancel     context.CancelFunc
	statusSeen chan struct{}
	seenOnce   bool

	state    State
	hasState bool
	shutter  ShutterStatus

	// forceNextOutput makes the next poll publish state even if
	// nothing else changed, so power changes are reported promptly
	// and self-consistently with the polled signals.
	forceNextOutput bool

	lampCommandedOn bool
	commandedPower  float64
	onTime          time.Time
	offTime         time.Time

	// unexpectedlyOff latches after the lamp fails to ignite; cleared
	// by the next turn-on attempt.
	unexpectedlyOff bool
	// stuckOn is set while the lamp reports light after the off-delay
	// budget; the cooldown timer starts only once the light actually
	// goes out.
	stuckOn bool

	// Blinking error decoding state.
	blinkWasOn     bool
	blinkOnTime    time.Time
	blinkOffTime   time.Time
	errorCodeStart time.Time
	blinkGapSeen   bool

	pendingOn  *pendingOp
	pendingOff *pendingOp

	// shutterWaiters are closed by the poll loop when the actual
	// shutter state reaches the waiter's target.
	shutterWaiters map[chan struct{}]ShutterState
}

// NewModel creates a lamp model over the given device connection. It
// does not connect.
func NewModel(modelConfig ModelConfig) (*Model, error) {
	if modelConfig.Conn == nil {
		return nil, errors.New("device connection is required")
	}
	if power := modelConfig.Lamp.DefaultPower; power < MinPower || power > MaxPower {
		return nil, fmt.Errorf("default_power=%v must be in range [%v, %v]",
			power, MinPower, MaxPower)
	}
	if modelConfig.Logger == nil {
		modelConfig.Logger = log.NoopLogger{}
	}
	if modelConfig.Slog == nil {
		modelConfig.Slog = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Model{
		config:         modelConfig.Lamp,
		adapter:        NewAdapter(modelConfig.Conn),
		callbacks:      modelConfig.Callbacks,
		logger:         modelConfig.Logger,
		slog:           modelConfig.Slog,
		status:         &notify.Notifier{},
		shutterWaiters: make(map[chan struct{}]ShutterState),
	}, nil
}

// SetStatusCallback registers a callback invoked whenever the lamp
// state or the connected flag changes. Pass nil to remove it.
func (m *Model) SetStatusCallback(callback notify.Callback) {
	m.status.SetCallback(callback)
}

// Connected reports whether the model is connected to the device.
func (m *Model) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// State returns the current lamp state. It fails with ErrNotConnected
// before Connect completes.
func (m *Model) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || !m.hasState {
		return State{}, ErrNotConnected
	}
	return m.state, nil
}

// Shutter returns the current shutter status.
func (m *Model) Shutter() (ShutterStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || !m.hasState {
		return ShutterStatus{}, ErrNotConnected
	}
	return m.shutter, nil
}

// RemainingCooldown returns the remaining cooldown interlock, or 0.
func (m *Model) RemainingCooldown() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingCooldown(time.Now())
}

// RemainingWarmup returns the remaining warmup interlock, or 0.
func (m *Model) RemainingWarmup() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingWarmup(time.Now())
}

func (m *Model) remainingCooldown(now time.Time) time.Duration {
	if m.offTime.IsZero() {
		return 0
	}
	remaining := m.config.CooldownPeriod.Std() - now.Sub(m.offTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Model) remainingWarmup(now time.Time) time.Duration {
	if !m.lampCommandedOn || m.onTime.IsZero() {
		return 0
	}
	remaining := m.config.WarmupPeriod.Std() - now.Sub(m.onTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Connect connects to the device and starts the poll loop. It returns
// once the first sample has been processed, so state is available, or
// fails after the configured connect timeout.
func (m *Model) Connect(ctx context.Context) error {
	m.Disconnect()

	connectTimeout := m.config.ConnectTimeout.Std()
	ctx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
	defer cancelConnect()

	if err := m.adapter.Connect(ctx, connectTimeout); err != nil {
		return fmt.Errorf("connect to device: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	statusSeen := make(chan struct{})

	m.mu.Lock()
	m.connected = true
	m.cancel = cancel
	m.statusSeen = statusSeen
	m.seenOnce = false
	m.hasState = false
	m.state = State{}
	m.shutter = ShutterStatus{}
	m.resetBlinkDecoding()
	m.unexpectedlyOff = false
	m.stuckOn = false
	m.mu.Unlock()

	go m.pollLoop(loopCtx)

	select {
	case <-statusSeen:
	case <-ctx.Done():
		m.Disconnect()
		return fmt.Errorf("no lamp state seen within %v: %w", connectTimeout, ctx.Err())
	}

	m.notifyConnected(true)
	m.status.Notify()
	return nil
}

// Disconnect turns the lamp off (forced, best-effort), stops the poll
// loop and closes the device. Pending operations fail with a
// descriptive error; they are never left unresolved.
func (m *Model) Disconnect() {
	m.mu.Lock()
	wasConnected := m.connected
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if !wasConnected {
		if cancel != nil {
			cancel()
		}
		return
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), m.config.ConnectTimeout.Std())
	defer cancelCtx()

	if err := m.TurnLampOff(ctx, true, false); err != nil && !errors.Is(err, ErrNotConnected) {
		m.slog.Warn("could not turn lamp off while disconnecting", "error", err)
	}

	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	m.connected = false
	m.hasState = false
	m.resolvePending(&m.pendingOn, errors.New("disconnected"))
	m.resolvePending(&m.pendingOff, errors.New("disconnected"))
	for waiter := range m.shutterWaiters {
		close(waiter)
		delete(m.shutterWaiters, waiter)
	}
	m.state = State{
		BasicState:      BasicStateUnknown,
		ControllerState: ControllerStateUnknown,
		ControllerError: ControllerErrorUnknown,
	}
	m.mu.Unlock()

	if err := m.adapter.Disconnect(ctx, m.config.ConnectTimeout.Std()); err != nil {
		m.slog.Warn("device disconnect failed", "error", err)
	}

	m.notifyConnected(false)
	m.status.Notify()
}

// Close disconnects and releases the I/O adapter. The model is
// unusable afterwards.
func (m *Model) Close() {
	m.Disconnect()
	m.adapter.Close()
}

// TurnLampOn turns the lamp on at the given power, or changes the
// power if the lamp is already on. The KiloArc ignites the bulb at
// 1200 W and falls back to the requested power a few seconds later.
//
// Power must be in [800, 1200] W. Turning on during the cooldown
// interlock, or while another turn-on is pending, fails with an
// expected error. A pending turn-off is aborted. The call returns once
// the photosensor confirms light, or fails if light is not confirmed
// within the configured max lamp on delay.
func (m *Model) TurnLampOn(ctx context.Context, power float64) error {
	if power < MinPower || power > MaxPower {
		return expected.Newf("power=%v must be in range [%v, %v] W, inclusive",
			power, MinPower, MaxPower)
	}
	voltage, err := VoltageFromPower(power)
	if err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if remaining := m.remainingCooldown(now); remaining > 0 {
		m.mu.Unlock()
		return expected.Newf("cooling; wait %0.1f seconds", remaining.Seconds())
	}
	if m.pendingOn != nil {
		m.mu.Unlock()
		return expected.Newf("a turn-on operation is already pending")
	}
	m.resolvePending(&m.pendingOff, errors.New("superseded by a turn-on command"))

	wasOn := m.lampCommandedOn
	m.lampCommandedOn = true
	m.commandedPower = power
	m.unexpectedlyOff = false
	var pending *pendingOp
	if !wasOn {
		m.onTime = now
		pending = newPendingOp()
		m.pendingOn = pending
	}
	m.forceNextOutput = true
	m.mu.Unlock()

	if err := m.adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: voltage}); err != nil {
		m.mu.Lock()
		if !wasOn {
			m.lampCommandedOn = false
			m.commandedPower = 0
			m.pendingOn = nil
		}
		m.mu.Unlock()
		return fmt.Errorf("set lamp power: %w", err)
	}

	if pending == nil {
		// Already on; just a power change.
		return nil
	}

	select {
	case err := <-pending.result:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		if m.pendingOn == pending {
			m.pendingOn = nil
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

// TurnLampOff turns the lamp off. A no-op if already off. Turning off
// during the warmup interlock fails with an expected error unless
// force is true, which is logged as a warning since it reduces bulb
// life. If wait is true the call returns only once the photosensor
// confirms darkness, or fails if light is still seen after the
// configured max lamp off delay.
func (m *Model) TurnLampOff(ctx context.Context, force, wait bool) error {
	now := time.Now()
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if !m.lampCommandedOn {
		m.mu.Unlock()
		return nil
	}
	if remaining := m.remainingWarmup(now); remaining > 0 {
		if !force {
			m.mu.Unlock()
			return expected.Newf(
				"can't power off lamp while warming up; wait %0.1f seconds or use force",
				remaining.Seconds())
		}
		m.slog.Warn("turning off lamp while warming up; this reduces bulb life",
			"remaining_warmup", remaining)
	}
	m.resolvePending(&m.pendingOn, errors.New("superseded by a turn-off command"))

	onSeconds := now.Sub(m.onTime).Seconds()
	m.lampCommandedOn = false
	m.commandedPower = 0
	m.offTime = now
	var pending *pendingOp
	if wait {
		pending = newPendingOp()
		m.pendingOff = pending
	}
	m.forceNextOutput = true
	m.mu.Unlock()

	if err := m.adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: 0}); err != nil {
		m.mu.Lock()
		if pending != nil && m.pendingOff == pending {
			m.pendingOff = nil
		}
		m.mu.Unlock()
		return fmt.Errorf("set lamp power to 0: %w", err)
	}

	if onSeconds > 0 && m.callbacks.OnHours != nil {
		m.callbacks.OnHours(onSeconds / 3600)
	}

	if pending == nil {
		return nil
	}
	select {
	case err := <-pending.result:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		if m.pendingOff == pending {
			m.pendingOff = nil
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

// MoveShutter opens or closes the shutter. A no-op if the shutter is
// already commanded to and at the desired position. It fails with an
// expected error if the sensing switches report the contradictory
// both-active state, without touching the outputs. The shutter motor
// is always disabled again when the move ends, whether it succeeded,
// timed out or failed.
func (m *Model) MoveShutter(ctx context.Context, open bool) (err error) {
	m.shutterMu.Lock()
	defer m.shutterMu.Unlock()

	desired := ShutterStateClosed
	direction := float64(ShutterDirectionClose)
	if open {
		desired = ShutterStateOpen
		direction = ShutterDirectionOpen
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.shutter.Commanded == desired && m.shutter.Actual == desired {
		m.mu.Unlock()
		return nil
	}
	if m.shutter.Actual == ShutterStateInvalid {
		m.mu.Unlock()
		return expected.Newf(
			"one or both shutter sensing switches is broken; cannot move the shutter")
	}
	waiter := make(chan struct{})
	m.shutterWaiters[waiter] = desired
	m.shutter.Commanded = desired
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.shutterWaiters, waiter)
		m.mu.Unlock()
	}()

	if err := m.adapter.Write(ctx, map[string]float64{ChannelShutterDirection: direction}); err != nil {
		return fmt.Errorf("set shutter direction: %w", err)
	}
	if err := m.adapter.Write(ctx, map[string]float64{ChannelShutterEnable: ShutterEnable}); err != nil {
		return fmt.Errorf("enable shutter motor: %w", err)
	}
	m.setShutterEnabled(true)

	// The motor is disabled again no matter how the move ends.
	defer func() {
		disableCtx, cancel := context.WithTimeout(context.Background(), readWriteTimeout)
		defer cancel()
		if disableErr := m.adapter.Write(disableCtx,
			map[string]float64{ChannelShutterEnable: ShutterDisable}); disableErr != nil {
			m.slog.Error("could not disable shutter motor", "error", disableErr)
			if err == nil {
				err = fmt.Errorf("disable shutter motor: %w", disableErr)
			}
		}
		m.setShutterEnabled(false)
	}()

	timeout := m.config.ShutterTimeout.Std()
	select {
	case <-waiter:
	case <-time.After(timeout):
		direction := "close"
		if open {
			direction = "open"
		}
		return fmt.Errorf("shutter failed to %s in %0.2f seconds",
			direction, timeout.Seconds())
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	connected := m.connected
	actual := m.shutter.Actual
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if actual == ShutterStateInvalid {
		return expected.Newf(
			"one or both shutter sensing switches is broken; move failed")
	}
	return nil
}

// pollLoop reads the device at StatusInterval and feeds the state
// machine. On an unrecoverable error it logs and disconnects the
// model rather than crashing; reconnection policy belongs to the
// supervisor.
func (m *Model) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	for {
		sample, err := m.adapter.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrNotConnected) {
				m.slog.Debug("lamp poll loop ends")
				return
			}
			m.slog.Error("lamp poll loop failed; disconnecting", "error", err)
			// Disconnect cancels this loop's context, so it must not
			// be awaited from here.
			go m.Disconnect()
			return
		}
		m.handleSample(ctx, sample, time.Now())

		select {
		case <-ctx.Done():
			m.slog.Debug("lamp poll loop ends")
			return
		case <-ticker.C:
		}
	}
}

// handleSample runs one step of the state machine.
func (m *Model) handleSample(ctx context.Context, sample Sample, now time.Time) {
	lit := sample.PhotosensorVoltage > lightThreshold

	m.mu.Lock()

	controllerError := m.decodeBlinkingError(sample, now)
	controllerState := deriveControllerState(sample)
	basicState, forceOff := m.deriveBasicState(lit, controllerState, now)

	newState := State{
		BasicState:      basicState,
		ControllerState: controllerState,
		ControllerError: controllerError,
		SetPower:        m.commandedPower,
		CooldownEndTime: endTime(m.offTime, m.config.CooldownPeriod.Std()),
		WarmupEndTime:   endTime(m.onTime, m.config.WarmupPeriod.Std()),
	}
	oldState := m.state
	hadState := m.hasState
	stateChanged := !hadState || oldState != newState || m.forceNextOutput
	m.state = newState
	m.hasState = true
	m.forceNextOutput = false

	// Shutter state and waiters.
	actual := shutterStateFromSwitches(sample.ShutterOpenSwitch, sample.ShutterClosedSwitch)
	shutterChanged := m.shutter.Actual != actual
	m.shutter.Actual = actual
	newShutter := m.shutter
	for waiter, target := range m.shutterWaiters {
		if target == actual {
			close(waiter)
			delete(m.shutterWaiters, waiter)
		}
	}

	seen := m.seenOnce
	if !seen {
		m.seenOnce = true
		close(m.statusSeen)
	}
	m.mu.Unlock()

	if forceOff {
		// The lamp failed to ignite; recommand power 0 so the
		// controller and our bookkeeping agree.
		if err := m.adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: 0}); err != nil {
			m.slog.Error("could not force lamp power to 0", "error", err)
		}
	}

	if stateChanged {
		if hadState && oldState.BasicState != newState.BasicState {
			m.logStateChange("lampBasicState",
				oldState.BasicState.String(), newState.BasicState.String())
		}
		if m.callbacks.State != nil {
			m.callbacks.State(newState)
		}
		m.status.Notify()
	}
	if shutterChanged && m.callbacks.Shutter != nil {
		m.callbacks.Shutter(newShutter)
	}
}

// deriveBasicState computes the basic state from the commanded-on
// flag, the photosensor and the interlock timers. Called with the
// mutex held. It resolves pending on/off operations as their outcome
// becomes known, and reports whether power must be forced to 0
// because the lamp failed to ignite.
func (m *Model) deriveBasicState(lit bool, controllerState ControllerState, now time.Time) (BasicState, bool) {
	if m.lampCommandedOn {
		switch {
		case lit:
			m.resolvePending(&m.pendingOn, nil)
			if m.remainingWarmup(now) > 0 {
				return BasicStateWarmup, false
			}
			return BasicStateOn, false
		case now.Sub(m.onTime) > m.config.MaxLampOnDelay.Std():
			// Light was never confirmed: a hardware fault, not a
			// normal path.
			m.unexpectedlyOff = true
			m.lampCommandedOn = false
			m.commandedPower = 0
			m.resolvePending(&m.pendingOn, fmt.Errorf(
				"lamp did not ignite within %v", m.config.MaxLampOnDelay.Std()))
			return BasicStateUnexpectedlyOff, true
		default:
			return BasicStateTurningOn, false
		}
	}

	if lit {
		if now.Sub(m.offTime) > m.config.MaxLampOffDelay.Std() {
			// Lamp stuck on. The cooldown timer is not started: the
			// real bulb state is unknown until the light goes out.
			if !m.stuckOn {
				m.stuckOn = true
				m.resolvePending(&m.pendingOff, fmt.Errorf(
					"lamp is still on %v after power was removed",
					m.config.MaxLampOffDelay.Std()))
			}
			return BasicStateUnexpectedlyOn, false
		}
		return BasicStateTurningOff, false
	}

	if m.stuckOn {
		m.stuckOn = false
		m.offTime = now
	}
	if m.unexpectedlyOff {
		return BasicStateUnexpectedlyOff, false
	}
	if m.remainingCooldown(now) > 0 {
		m.resolvePending(&m.pendingOff, nil)
		return BasicStateCooldown, false
	}
	if controllerState == ControllerStateCooldown {
		// Trust the controller's own cooldown output even if our
		// timer has expired.
		m.resolvePending(&m.pendingOff, nil)
		return BasicStateCooldown, false
	}
	m.resolvePending(&m.pendingOff, nil)
	return BasicStateOff, false
}

// decodeBlinkingError tracks the blinking error signal and decodes
// completed pulse trains. The controller reports error N by blinking
// N times at 0.5 s on / 0.5 s off, then waiting 1.5 s and repeating;
// each blink cycle is one second, so the code equals the seconds
// between the first rising edge and the last falling edge plus half a
// second for the final blink. Called with the mutex held.
func (m *Model) decodeBlinkingError(sample Sample, now time.Time) ControllerError {
	if !sample.ErrorExists {
		// The blinking signal should be off; ignore it.
		m.resetBlinkDecoding()
		m.blinkGapSeen = true
		return ControllerErrorNone
	}

	controllerError := m.state.ControllerError
	if !m.hasState {
		controllerError = ControllerErrorNone
	}

	if sample.BlinkingError {
		if !m.blinkWasOn {
			m.blinkOnTime = now
			if m.blinkGapSeen &&
				now.Sub(m.blinkOffTime) > ErrorBlinkingDuration {
				// A new pulse train begins.
				m.errorCodeStart = now
			}
		}
		if m.seenOnce && controllerError == ControllerErrorNone {
			// A new error; keep it unknown until the blink count is in.
			controllerError = ControllerErrorUnknown
		}
	} else {
		if m.blinkWasOn {
			m.blinkOffTime = now
		} else if now.Sub(m.blinkOffTime) >= ErrorBlinkingDuration {
			m.blinkGapSeen = true
			if !m.errorCodeStart.IsZero() {
				// The signal has been off long enough: the train is done.
				seconds := 0.5 + m.blinkOffTime.Sub(m.errorCodeStart).Seconds()
				count := int(seconds + 0.5)
				decoded := controllerErrorFromBlinkCount(count)
				if decoded == ControllerErrorUnknown {
					m.slog.Warn("unrecognized error blink count", "count", count)
				}
				controllerError = decoded
				m.errorCodeStart = time.Time{}
			}
		}
	}
	m.blinkWasOn = sample.BlinkingError
	return controllerError
}

func (m *Model) resetBlinkDecoding() {
	m.blinkWasOn = false
	m.blinkOnTime = time.Time{}
	m.blinkOffTime = time.Time{}
	m.errorCodeStart = time.Time{}
	m.blinkGapSeen = false
}

// resolvePending resolves a pending operation with err and clears it.
// Called with the mutex held; the result channel is buffered so this
// never blocks.
func (m *Model) resolvePending(p **pendingOp, err error) {
	if *p == nil {
		return
	}
	(*p).result <- err
	*p = nil
}

func (m *Model) setShutterEnabled(enabled bool) {
	m.mu.Lock()
	m.shutter.Enabled = enabled
	status := m.shutter
	m.mu.Unlock()
	if m.callbacks.Shutter != nil {
		m.callbacks.Shutter(status)
	}
}

func (m *Model) notifyConnected(connected bool) {
	if m.callbacks.Connected != nil {
		m.callbacks.Connected(connected)
	}
}

func (m *Model) logStateChange(entity, oldState, newState string) {
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceLamp,
		Direction: log.DirectionNone,
		Layer:     log.LayerDevice,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// deriveControllerState decodes the controller status outputs.
func deriveControllerState(sample Sample) ControllerState {
	switch {
	case sample.ErrorExists:
		return ControllerStateError
	case sample.StandbyOrOn:
		return ControllerStateStandbyOrOn
	case sample.Cooldown:
		return ControllerStateCooldown
	default:
		return ControllerStateOff
	}
}

// endTime returns start+offset, or zero if start is zero, so unset
// timers report as zero instead of an unrealistic tiny timestamp.
func endTime(start time.Time, offset time.Duration) time.Time {
	if start.IsZero() {
		return time.Time{}
	}
	return start.Add(offset)
}
