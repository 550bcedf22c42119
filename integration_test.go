package atwhitelight_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-ts/ts-atwhitelight/pkg/chiller"
	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/lamp"
	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
)

// TestE2E_FullStack drives both devices the way the daemon does:
// chiller engine against a mock chiller over TCP, lamp model against a
// mock LabJack, with protocol events recorded to a log file that is
// then read back and checked.
func TestE2E_FullStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	logPath := filepath.Join(t.TempDir(), "e2e.wlog")
	protoLogger, err := log.NewFileLogger(logPath)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Chiller.TelemetryInterval = config.Duration(20 * time.Millisecond)
	cfg.Chiller.WatchdogInterval = config.Duration(20 * time.Millisecond)
	cfg.Lamp.WarmupPeriod = config.Duration(100 * time.Millisecond)
	cfg.Lamp.CooldownPeriod = config.Duration(100 * time.Millisecond)
	cfg.Lamp.MaxLampOnDelay = config.Duration(2 * time.Second)
	cfg.Lamp.MaxLampOffDelay = config.Duration(2 * time.Second)

	// Chiller side.
	mockChiller, err := chiller.NewMockChiller(nil)
	require.NoError(t, err)
	defer mockChiller.Close()

	watchdogs := make(chan chiller.WatchdogRecord, 100)
	temperatures := make(chan chiller.Temperatures, 100)
	engine := chiller.NewEngine(chiller.EngineConfig{
		Chiller: cfg.Chiller,
		Addr:    mockChiller.Addr(),
		Logger:  protoLogger,
		Callbacks: chiller.Callbacks{
			Watchdog:     func(record chiller.WatchdogRecord) { watchdogs <- record },
			Temperatures: func(group chiller.Temperatures) { temperatures <- group },
		},
	})
	require.NoError(t, engine.Connect(ctx))
	defer engine.Disconnect()

	// Lamp side.
	mockLamp := lamp.NewMockConn()
	mockLamp.ShutterDuration = 50 * time.Millisecond
	lampStates := make(chan lamp.State, 100)
	model, err := lamp.NewModel(lamp.ModelConfig{
		Lamp:   cfg.Lamp,
		Conn:   mockLamp,
		Logger: protoLogger,
		Callbacks: lamp.ModelCallbacks{
			State: func(state lamp.State) { lampStates <- state },
		},
	})
	require.NoError(t, err)
	require.NoError(t, model.Connect(ctx))
	defer model.Close()

	// Drive the chiller: cooling on, demand temperature, telemetry.
	require.NoError(t, engine.StartCooling(ctx))
	waitFor(t, watchdogs, func(record chiller.WatchdogRecord) bool {
		return record.ControllerState == chiller.ControllerStateRun && record.PumpRunning
	})
	require.NoError(t, engine.SetControlTemperature(ctx, 18))
	assert.Equal(t, 18.0, mockChiller.DemandTemperature())
	waitFor(t, temperatures, func(chiller.Temperatures) bool { return true })

	// Drive the lamp: full on/off cycle plus a shutter move.
	require.NoError(t, model.TurnLampOn(ctx, 1000))
	waitFor(t, lampStates, func(state lamp.State) bool {
		return state.BasicState == lamp.BasicStateOn
	})
	require.NoError(t, model.MoveShutter(ctx, true))
	shutter, err := model.Shutter()
	require.NoError(t, err)
	assert.Equal(t, lamp.ShutterStateOpen, shutter.Actual)

	require.NoError(t, model.TurnLampOff(ctx, false, true))
	waitFor(t, lampStates, func(state lamp.State) bool {
		return state.BasicState == lamp.BasicStateOff
	})

	require.NoError(t, engine.StopCooling(ctx))
	engine.Disconnect()
	model.Disconnect()
	require.NoError(t, protoLogger.Close())

	// The log file must hold traffic from both devices at all layers.
	assert.Greater(t, countEvents(t, logPath, log.Filter{}), 0)

	chillerSource := log.SourceChiller
	frameCategory := log.CategoryFrame
	assert.Greater(t, countEvents(t, logPath, log.Filter{
		Source: &chillerSource, Category: &frameCategory,
	}), 0, "chiller frames")

	commandCategory := log.CategoryCommand
	assert.Greater(t, countEvents(t, logPath, log.Filter{
		Source: &chillerSource, Category: &commandCategory,
	}), 0, "decoded chiller commands")

	lampSource := log.SourceLamp
	stateCategory := log.CategoryState
	assert.Greater(t, countEvents(t, logPath, log.Filter{
		Source: &lampSource, Category: &stateCategory,
	}), 0, "lamp state changes")
}

func waitFor[T any](t *testing.T, ch <-chan T, pred func(T) bool) T {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case value := <-ch:
			if pred(value) {
				return value
			}
		case <-deadline:
			t.Fatal("timed out waiting for value")
			panic("unreachable")
		}
	}
}

func countEvents(t *testing.T, path string, filter log.Filter) int {
	t.Helper()
	reader, err := log.NewFilteredReader(path, filter)
	require.NoError(t, err)
	defer reader.Close()
	count := 0
	for {
		_, err := reader.Next()
		if err == io.EOF {
			return count
		}
		require.NoError(t, err)
		count++
	}
}
