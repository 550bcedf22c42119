// Command atwhitelight-commander is an interactive console for the
// white light calibration source. It connects to the chiller and lamp
// controller and exposes their operations as typed commands, intended
// for engineering use and bench testing.
//
// Usage:
//
//	atwhitelight-commander [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-simulate             Run against in-process mock devices
//	-protocol-log string  Write protocol events to this file
//
// Examples:
//
//	# Exercise the full stack without hardware
//	atwhitelight-commander -simulate
//
//	# Drive the real chiller
//	atwhitelight-commander -config /etc/atwhitelight.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/lsst-ts/ts-atwhitelight/pkg/chiller"
	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/expected"
	"github.com/lsst-ts/ts-atwhitelight/pkg/lamp"
	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
)

// commandTimeout bounds each console-issued device operation. Long
// enough for a waited lamp turn-on against real hardware.
const commandTimeout = 5 * time.Minute

func main() {
	configPath := flag.String("config", "", "configuration file path")
	simulate := flag.Bool("simulate", false, "run against in-process mock devices")
	protocolLog := flag.String("protocol-log", "", "write protocol events to this file")
	flag.Parse()

	if err := run(*configPath, *simulate, *protocolLog); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string, simulate bool, protocolLog string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var protoLogger log.Logger = log.NoopLogger{}
	if protocolLog != "" {
		fileLogger, err := log.NewFileLogger(protocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fileLogger.Close()
		protoLogger = fileLogger
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "awl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	// Background noise goes through the readline writer so it does
	// not mangle the prompt.
	slogger := slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	console := &console{rl: rl}

	engineConfig := chiller.EngineConfig{
		Chiller: cfg.Chiller,
		Logger:  protoLogger,
		Slog:    slogger.With("component", "chiller"),
		Callbacks: chiller.Callbacks{
			Watchdog: console.onWatchdog,
			Alarms:   console.onAlarms,
			Warnings: console.onWarnings,
			Uptime:   console.onUptime,
		},
	}

	var lampConn lamp.Conn
	if simulate {
		mockChiller, err := chiller.NewMockChiller(slogger.With("component", "mock-chiller"))
		if err != nil {
			return fmt.Errorf("start mock chiller: %w", err)
		}
		defer mockChiller.Close()
		engineConfig.Addr = mockChiller.Addr()
		console.mockChiller = mockChiller
		console.mockLamp = lamp.NewMockConn()
		lampConn = console.mockLamp
	}

	console.engine = chiller.NewEngine(engineConfig)

	ctx := context.Background()
	if err := console.engine.Connect(ctx); err != nil {
		return fmt.Errorf("connect to chiller: %w", err)
	}
	defer console.engine.Disconnect()
	fmt.Fprintln(rl.Stdout(), "Chiller connected.")

	if lampConn != nil {
		model, err := lamp.NewModel(lamp.ModelConfig{
			Lamp:   cfg.Lamp,
			Conn:   lampConn,
			Logger: protoLogger,
			Slog:   slogger.With("component", "lamp"),
			Callbacks: lamp.ModelCallbacks{
				State:   console.onLampState,
				OnHours: console.onOnHours,
			},
		})
		if err != nil {
			return err
		}
		if err := model.Connect(ctx); err != nil {
			return fmt.Errorf("connect to lamp controller: %w", err)
		}
		defer model.Close()
		console.model = model
		console.defaultPower = cfg.Lamp.DefaultPower
		fmt.Fprintln(rl.Stdout(), "Lamp controller connected.")
	} else {
		fmt.Fprintln(rl.Stdout(), "Lamp controller not available; chiller commands only.")
	}

	console.loop()
	return nil
}

// console holds the interactive session state.
type console struct {
	rl     *readline.Instance
	engine *chiller.Engine
	model  *lamp.Model

	defaultPower float64

	// mocks are non-nil in simulate mode and drive the sim-* commands.
	mockChiller *chiller.MockChiller
	mockLamp    *lamp.MockConn
}

func (c *console) out() io.Writer {
	return c.rl.Stdout()
}

func (c *console) loop() {
	c.printHelp()
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out(), "Exiting...")
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "status", "s":
			c.cmdStatus()
		case "start-cooling":
			c.runOp(c.engine.StartCooling)
		case "stop-cooling":
			c.runOp(c.engine.StopCooling)
		case "set-temp":
			c.cmdSetTemp(args)
		case "uptime":
			c.runOp(c.engine.ReadUptime)
		case "lamp-on":
			c.cmdLampOn(args)
		case "lamp-off":
			c.cmdLampOff(args)
		case "shutter":
			c.cmdShutter(args)
		case "sim-alarms":
			c.cmdSimAlarms(args)
		case "sim-warnings":
			c.cmdSimWarnings(args)
		case "sim-error":
			c.cmdSimError(args)
		case "quit", "exit", "q":
			fmt.Fprintln(c.out(), "Exiting...")
			return
		default:
			fmt.Fprintf(c.out(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out(), `
White Light Source Commands:
  Chiller:
    status             - Show chiller and lamp status
    start-cooling      - Start the chiller pump and TECs
    stop-cooling       - Put the chiller in standby
    set-temp <C>       - Set the demand temperature
    uptime             - Read the chiller uptime

  Lamp:
    lamp-on [power]    - Turn the lamp on (watts; default from config)
    lamp-off [force]   - Turn the lamp off; force bypasses the warmup interlock
    shutter open|close - Move the shutter

  Simulation (with -simulate):
    sim-alarms <l1> <l21> <l22> - Raise chiller alarms (hex masks)
    sim-warnings <mask>         - Raise chiller warnings (hex mask)
    sim-error <code>            - Blink a lamp controller error (0 clears)

  quit               - Exit`)
}

// runOp runs one device operation bounded by the command timeout and
// prints its outcome.
func (c *console) runOp(op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	c.report(op(ctx))
}

// report prints the outcome of a device operation. Expected errors are
// operator mistakes, printed without ceremony.
func (c *console) report(err error) {
	switch {
	case err == nil:
		fmt.Fprintln(c.out(), "OK")
	case expected.Is(err):
		fmt.Fprintln(c.out(), err.Error())
	default:
		fmt.Fprintln(c.out(), "Error:", err)
	}
}

func (c *console) cmdStatus() {
	if watchdog, err := c.engine.Watchdog(); err != nil {
		fmt.Fprintln(c.out(), "Chiller: no watchdog data:", err)
	} else {
		fmt.Fprintf(c.out(), "Chiller: %v pump=%v alarms=%v warnings=%v\n",
			watchdog.ControllerState, watchdog.PumpRunning,
			watchdog.AlarmsPresent, watchdog.WarningsPresent)
	}
	fmt.Fprintf(c.out(), "Demand temperature: %.1f C\n", c.engine.SetTemperature())

	if c.model == nil {
		fmt.Fprintln(c.out(), "Lamp: not available")
		return
	}
	if state, err := c.model.State(); err != nil {
		fmt.Fprintln(c.out(), "Lamp:", err)
	} else {
		fmt.Fprintf(c.out(), "Lamp: %v (controller %v, error %v, power %.0f W)\n",
			state.BasicState, state.ControllerState, state.ControllerError, state.SetPower)
		if remaining := c.model.RemainingCooldown(); remaining > 0 {
			fmt.Fprintf(c.out(), "  cooldown: %.0f s remaining\n", remaining.Seconds())
		}
		if remaining := c.model.RemainingWarmup(); remaining > 0 {
			fmt.Fprintf(c.out(), "  warmup: %.0f s remaining\n", remaining.Seconds())
		}
	}
	if shutter, err := c.model.Shutter(); err == nil {
		fmt.Fprintf(c.out(), "Shutter: %v (commanded %v, motor %v)\n",
			shutter.Actual, shutter.Commanded, shutter.Enabled)
	}
}

func (c *console) cmdSetTemp(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: set-temp <C>")
		return
	}
	temperature, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Fprintln(c.out(), "Invalid temperature:", args[0])
		return
	}
	c.runOp(func(ctx context.Context) error {
		return c.engine.SetControlTemperature(ctx, temperature)
	})
}

func (c *console) cmdLampOn(args []string) {
	if c.model == nil {
		fmt.Fprintln(c.out(), "Lamp not available")
		return
	}
	power := c.defaultPower
	if len(args) > 0 {
		parsed, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fmt.Fprintln(c.out(), "Invalid power:", args[0])
			return
		}
		power = parsed
	}
	fmt.Fprintf(c.out(), "Turning lamp on at %.0f W...\n", power)
	c.runOp(func(ctx context.Context) error {
		return c.model.TurnLampOn(ctx, power)
	})
}

func (c *console) cmdLampOff(args []string) {
	if c.model == nil {
		fmt.Fprintln(c.out(), "Lamp not available")
		return
	}
	force := len(args) > 0 && strings.EqualFold(args[0], "force")
	fmt.Fprintln(c.out(), "Turning lamp off...")
	c.runOp(func(ctx context.Context) error {
		return c.model.TurnLampOff(ctx, force, true)
	})
}

func (c *console) cmdShutter(args []string) {
	if c.model == nil {
		fmt.Fprintln(c.out(), "Lamp not available")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: shutter open|close")
		return
	}
	switch strings.ToLower(args[0]) {
	case "open":
		c.runOp(func(ctx context.Context) error {
			return c.model.MoveShutter(ctx, true)
		})
	case "close":
		c.runOp(func(ctx context.Context) error {
			return c.model.MoveShutter(ctx, false)
		})
	default:
		fmt.Fprintln(c.out(), "Usage: shutter open|close")
	}
}

func (c *console) cmdSimAlarms(args []string) {
	if c.mockChiller == nil {
		fmt.Fprintln(c.out(), "Only available with -simulate")
		return
	}
	if len(args) != 3 {
		fmt.Fprintln(c.out(), "Usage: sim-alarms <l1> <l21> <l22>")
		return
	}
	masks := make([]uint64, 3)
	for i, arg := range args {
		mask, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
		if err != nil {
			fmt.Fprintln(c.out(), "Invalid hex mask:", arg)
			return
		}
		masks[i] = mask
	}
	c.mockChiller.SetAlarms(masks[0], masks[1], masks[2])
	fmt.Fprintln(c.out(), "OK; alarms appear at the next watchdog poll")
}

func (c *console) cmdSimWarnings(args []string) {
	if c.mockChiller == nil {
		fmt.Fprintln(c.out(), "Only available with -simulate")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: sim-warnings <mask>")
		return
	}
	mask, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		fmt.Fprintln(c.out(), "Invalid hex mask:", args[0])
		return
	}
	c.mockChiller.SetWarnings(mask)
	fmt.Fprintln(c.out(), "OK; warnings appear at the next watchdog poll")
}

func (c *console) cmdSimError(args []string) {
	if c.mockLamp == nil {
		fmt.Fprintln(c.out(), "Only available with -simulate")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: sim-error <code>")
		return
	}
	code, err := strconv.Atoi(args[0])
	if err != nil || code < 0 {
		fmt.Fprintln(c.out(), "Invalid error code:", args[0])
		return
	}
	c.mockLamp.SetError(code)
	fmt.Fprintln(c.out(), "OK")
}

func (c *console) onWatchdog(record chiller.WatchdogRecord) {
	fmt.Fprintf(c.out(), "[chiller] state=%v pump=%v alarms=%v warnings=%v\n",
		record.ControllerState, record.PumpRunning,
		record.AlarmsPresent, record.WarningsPresent)
}

func (c *console) onAlarms(record chiller.AlarmRecord) {
	if record.Level1 == 0 && record.Level21 == 0 && record.Level22 == 0 {
		fmt.Fprintln(c.out(), "[chiller] alarms cleared")
		return
	}
	fmt.Fprintf(c.out(), "[chiller] ALARMS l1=%#x l21=%#x l22=%#x\n",
		record.Level1, record.Level21, record.Level22)
}

func (c *console) onWarnings(mask uint64) {
	if mask != 0 {
		fmt.Fprintf(c.out(), "[chiller] WARNINGS mask=%#x\n", mask)
	}
}

func (c *console) onUptime(minutes int) {
	fmt.Fprintf(c.out(), "[chiller] uptime %d minutes\n", minutes)
}

func (c *console) onLampState(state lamp.State) {
	fmt.Fprintf(c.out(), "[lamp] %v (controller %v, error %v, power %.0f W)\n",
		state.BasicState, state.ControllerState, state.ControllerError, state.SetPower)
}

func (c *console) onOnHours(hours float64) {
	fmt.Fprintf(c.out(), "[lamp] bulb on for %.2f hours\n", hours)
}
