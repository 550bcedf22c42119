// Command atwhitelightd runs the white light calibration source
// controller: the ThermoTek chiller protocol engine and the KiloArc
// lamp state machine, publishing telemetry and state changes to the
// process log until terminated.
//
// Usage:
//
//	atwhitelightd [flags]
//
// Examples:
//
//	# Run against real hardware described in a config file
//	atwhitelightd --config /etc/atwhitelight.yaml
//
//	# Run against in-process mock devices
//	atwhitelightd --simulate
//
//	# Record protocol traffic for later analysis
//	atwhitelightd --simulate --protocol-log /tmp/awl.wlog
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lsst-ts/ts-atwhitelight/pkg/chiller"
	"github.com/lsst-ts/ts-atwhitelight/pkg/config"
	"github.com/lsst-ts/ts-atwhitelight/pkg/lamp"
	"github.com/lsst-ts/ts-atwhitelight/pkg/log"
)

var (
	configPath  string
	logLevel    string
	protocolLog string
	simulate    bool
	noLamp      bool
)

var rootCmd = &cobra.Command{
	Use:   "atwhitelightd",
	Short: "White light calibration source controller",
	Long: `atwhitelightd controls the auxiliary telescope white light calibration
source: a Horiba KiloArc lamp driven through a LabJack I/O module and a
ThermoTek T257P chiller driven over TCP.

Without --config the built-in defaults are used. With --simulate both
devices are replaced by in-process mocks, which is useful for testing
the full stack without hardware.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&protocolLog, "protocol-log", "", "write protocol events to this file")
	rootCmd.Flags().BoolVar(&simulate, "simulate", false, "run against in-process mock devices")
	rootCmd.Flags().BoolVar(&noLamp, "no-lamp", false, "run the chiller only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	protoLogger, closeProto, err := buildProtocolLogger(logger, level)
	if err != nil {
		return err
	}
	defer closeProto()

	ctx := context.Background()

	var lampConn lamp.Conn
	engineConfig := chiller.EngineConfig{
		Chiller: cfg.Chiller,
		Logger:  protoLogger,
		Slog:    logger.With("component", "chiller"),
	}
	if simulate {
		mockChiller, err := chiller.NewMockChiller(logger.With("component", "mock-chiller"))
		if err != nil {
			return fmt.Errorf("start mock chiller: %w", err)
		}
		defer mockChiller.Close()
		engineConfig.Addr = mockChiller.Addr()
		lampConn = lamp.NewMockConn()
	} else if !noLamp {
		// The LabJack LJM vendor library is not linked into this
		// build; lamp.Conn is the seam for it.
		return fmt.Errorf("real LabJack I/O is not available; use --simulate or --no-lamp")
	}

	engineConfig.Callbacks = engineCallbacks(logger.With("device", "chiller"))
	engine := chiller.NewEngine(engineConfig)

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("connect to chiller: %w", err)
	}
	defer engine.Disconnect()
	logger.Info("chiller connected")

	if lampConn != nil {
		model, err := lamp.NewModel(lamp.ModelConfig{
			Lamp:      cfg.Lamp,
			Conn:      lampConn,
			Callbacks: lampCallbacks(logger.With("device", "lamp")),
			Logger:    protoLogger,
			Slog:      logger.With("component", "lamp"),
		})
		if err != nil {
			return err
		}
		if err := model.Connect(ctx); err != nil {
			return fmt.Errorf("connect to lamp controller: %w", err)
		}
		defer model.Close()
		logger.Info("lamp controller connected")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	return nil
}

// buildProtocolLogger assembles the protocol event logger: a CBOR file
// logger when --protocol-log is set, plus a slog mirror at debug level.
func buildProtocolLogger(logger *slog.Logger, level slog.Level) (log.Logger, func(), error) {
	var loggers []log.Logger
	closer := func() {}
	if protocolLog != "" {
		fileLogger, err := log.NewFileLogger(protocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fileLogger)
		closer = func() {
			if err := fileLogger.Close(); err != nil {
				logger.Warn("could not close protocol log", "error", err)
			}
		}
	}
	if level <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

func engineCallbacks(logger *slog.Logger) chiller.Callbacks {
	return chiller.Callbacks{
		Watchdog: func(record chiller.WatchdogRecord) {
			logger.Info("watchdog",
				"state", record.ControllerState,
				"pump", record.PumpRunning,
				"alarms", record.AlarmsPresent,
				"warnings", record.WarningsPresent)
		},
		Alarms: func(record chiller.AlarmRecord) {
			if record.Level1 != 0 || record.Level21 != 0 || record.Level22 != 0 {
				logger.Warn("alarms",
					"level1", fmt.Sprintf("%#x", record.Level1),
					"level21", fmt.Sprintf("%#x", record.Level21),
					"level22", fmt.Sprintf("%#x", record.Level22))
			} else {
				logger.Info("alarms cleared")
			}
		},
		Warnings: func(mask uint64) {
			if mask != 0 {
				logger.Warn("warnings", "mask", fmt.Sprintf("%#x", mask))
			}
		},
		Temperatures: func(t chiller.Temperatures) {
			logger.Debug("temperatures",
				"set", t.Set, "supply", t.Supply, "ambient", t.Ambient)
		},
		CoolantFlow: func(flow float64) {
			logger.Debug("coolant flow", "lpm", flow)
		},
		FanSpeeds: func(f chiller.FanSpeeds) {
			logger.Debug("fan speeds",
				"fan1", f.Fan1, "fan2", f.Fan2, "fan3", f.Fan3, "fan4", f.Fan4)
		},
		TECBankCurrents: func(c chiller.TECBankCurrents) {
			logger.Debug("TEC bank currents", "bank1", c.Bank1, "bank2", c.Bank2)
		},
		TECDrive: func(d chiller.TECDrive) {
			logger.Debug("TEC drive", "cooling", d.IsCooling, "level", d.Level)
		},
		Connected: func(connected bool) {
			logger.Info("connection state changed", "connected", connected)
		},
	}
}

func lampCallbacks(logger *slog.Logger) lamp.ModelCallbacks {
	return lamp.ModelCallbacks{
		State: func(state lamp.State) {
			logger.Info("lamp state",
				"basic", state.BasicState,
				"controller", state.ControllerState,
				"error", state.ControllerError,
				"power", state.SetPower)
		},
		Shutter: func(status lamp.ShutterStatus) {
			logger.Info("shutter",
				"commanded", status.Commanded,
				"actual", status.Actual,
				"motor", status.Enabled)
		},
		OnHours: func(hours float64) {
			logger.Info("bulb usage", "hours", hours)
		},
		Connected: func(connected bool) {
			logger.Info("connection state changed", "connected", connected)
		},
	}
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
