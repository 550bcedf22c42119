package lamp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Adapter errors.
var (
	// ErrNotConnected indicates an I/O call without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrIOTimeout indicates a device call exceeded its time budget.
	ErrIOTimeout = errors.New("device call timed out")

	// ErrUnknownChannel indicates a write to an unrecognized logical
	// channel name.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrVoltageOutOfRange indicates a lamp voltage outside 0 or
	// [VoltsAtMinPower, VoltsAtMaxPower].
	ErrVoltageOutOfRange = errors.New("lamp voltage out of range")
)

// readWriteTimeout bounds each device call.
const readWriteTimeout = 5 * time.Second

// Sample is one poll's raw readings from the lamp controller.
type Sample struct {
	// PhotosensorVoltage is the analog photosensor reading; light is
	// considered confirmed above lightThreshold.
	PhotosensorVoltage float64

	// BlinkingError is the raw blinking error signal.
	BlinkingError bool

	// Cooldown, StandbyOrOn and ErrorExists are the controller status
	// outputs.
	Cooldown    bool
	StandbyOrOn bool
	ErrorExists bool

	// ShutterOpenSwitch and ShutterClosedSwitch are the shutter
	// position sensing switches.
	ShutterOpenSwitch   bool
	ShutterClosedSwitch bool

	// SetVoltage is the commanded lamp power voltage read back from
	// the output register.
	SetVoltage float64
}

// Conn is the low-level vendor device connection. Implementations may
// block; the Adapter confines all calls to one worker goroutine and
// bounds them with timeouts.
type Conn interface {
	// Open connects to the device.
	Open() error

	// Close disconnects. It must be safe to call when not open.
	Close() error

	// ReadNames reads the given physical channels, in order.
	ReadNames(names []string) ([]float64, error)

	// WriteNames writes the given values to the given physical
	// channels, in order.
	WriteNames(names []string, values []float64) error
}

// Adapter presents named-channel read/write semantics over a vendor
// I/O device. Every device call runs on a single worker goroutine, so
// calls never overlap, and each call is bounded by a hard timeout so a
// wedged device cannot stall the poll loop forever.
type Adapter struct {
	conn Conn

	// readNames is the fixed, ordered list of physical channels read
	// by Read, with readLabels its logical names in the same order.
	readLabels []string
	readNames  []string

	calls     chan func()
	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	connected bool
}

// NewAdapter creates an adapter over the given device connection and
// starts its worker.
func NewAdapter(conn Conn) *Adapter {
	labels := make([]string, 0, len(ReadChannels))
	for label := range ReadChannels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	names := make([]string, len(labels))
	for i, label := range labels {
		names[i] = ReadChannels[label]
	}

	a := &Adapter{
		conn:       conn,
		readLabels: labels,
		readNames:  names,
		calls:      make(chan func()),
		closed:     make(chan struct{}),
	}
	go a.worker()
	return a
}

func (a *Adapter) worker() {
	for {
		select {
		case fn := <-a.calls:
			fn()
		case <-a.closed:
			return
		}
	}
}

// do runs fn on the worker goroutine, bounded by timeout. On timeout
// the call keeps running on the worker (there is no way to interrupt a
// blocked vendor call) but the caller gets ErrIOTimeout; subsequent
// calls queue behind it.
func (a *Adapter) do(ctx context.Context, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	wrapped := func() { result <- fn() }

	select {
	case a.calls <- wrapped:
	case <-a.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrIOTimeout, ctx.Err())
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrIOTimeout, ctx.Err())
	}
}

// Connected reports whether the device is open.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Connect opens the device, disconnecting first if already open.
func (a *Adapter) Connect(ctx context.Context, timeout time.Duration) error {
	err := a.do(ctx, timeout, func() error {
		a.mu.Lock()
		wasConnected := a.connected
		a.mu.Unlock()
		if wasConnected {
			if err := a.conn.Close(); err != nil {
				return fmt.Errorf("close before reconnect: %w", err)
			}
		}
		return a.conn.Open()
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Disconnect closes the device. A no-op if not connected.
func (a *Adapter) Disconnect(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mu.Unlock()
	if !wasConnected {
		return nil
	}
	return a.do(ctx, timeout, a.conn.Close)
}

// Close stops the worker. The adapter is unusable afterwards.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() { close(a.closed) })
}

// Read reads all logical read channels as one sample.
func (a *Adapter) Read(ctx context.Context) (Sample, error) {
	if !a.Connected() {
		return Sample{}, ErrNotConnected
	}
	var values []float64
	err := a.do(ctx, readWriteTimeout, func() error {
		var err error
		values, err = a.conn.ReadNames(a.readNames)
		return err
	})
	if err != nil {
		return Sample{}, err
	}
	if len(values) != len(a.readLabels) {
		return Sample{}, fmt.Errorf("device returned %d values for %d channels",
			len(values), len(a.readLabels))
	}

	var sample Sample
	for i, label := range a.readLabels {
		value := values[i]
		switch label {
		case ChannelPhotosensor:
			sample.PhotosensorVoltage = value
		case ChannelBlinkingError:
			sample.BlinkingError = value != 0
		case ChannelCooldown:
			sample.Cooldown = value != 0
		case ChannelStandbyOrOn:
			sample.StandbyOrOn = value != 0
		case ChannelErrorExists:
			sample.ErrorExists = value != 0
		case ChannelShutterOpen:
			sample.ShutterOpenSwitch = value != 0
		case ChannelShutterClosed:
			sample.ShutterClosedSwitch = value != 0
		case ChannelReadLampSetVoltage:
			sample.SetVoltage = value
		}
	}
	return sample, nil
}

// Write writes one or more logical write channels. Unknown channel
// names and out-of-range lamp voltages are rejected before touching
// the hardware.
func (a *Adapter) Write(ctx context.Context, values map[string]float64) error {
	if !a.Connected() {
		return ErrNotConnected
	}

	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	names := make([]string, len(labels))
	ordered := make([]float64, len(labels))
	for i, label := range labels {
		name, ok := WriteChannels[label]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, label)
		}
		value := values[label]
		if label == ChannelLampSetVoltage && value != 0 &&
			(value < VoltsAtMinPower || value > VoltsAtMaxPower) {
			return fmt.Errorf("%w: %v must be 0 or in [%v, %v] V",
				ErrVoltageOutOfRange, value, VoltsAtMinPower, VoltsAtMaxPower)
		}
		names[i] = name
		ordered[i] = value
	}

	return a.do(ctx, readWriteTimeout, func() error {
		return a.conn.WriteNames(names, ordered)
	})
}
