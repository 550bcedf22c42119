package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration errors.
var (
	// ErrMissingSection indicates a required top-level section is absent.
	ErrMissingSection = errors.New("missing config section")
)

// Temperature threshold limits from the chiller manual (C).
const (
	MinSupplyTemperature  = -7.0
	MaxSupplyTemperature  = 50.0
	MinAmbientTemperature = 0.0
	MaxAmbientTemperature = 50.0
)

// Lamp power limits of the KiloArc controller (W).
const (
	MinLampPower = 800.0
	MaxLampPower = 1200.0
)

// Config is the full configuration for the white light source.
type Config struct {
	Chiller ChillerConfig `yaml:"chiller"`
	Lamp    LampConfig    `yaml:"lamp"`
}

// ChillerConfig configures the ThermoTek chiller connection and thresholds.
type ChillerConfig struct {
	// Host is the IP address of the ethernet interface to the chiller.
	Host string `yaml:"host"`

	// Port of the ethernet interface to the chiller.
	Port int `yaml:"port"`

	// DeviceID is the protocol device ID. Typically "01".
	DeviceID string `yaml:"device_id"`

	// InitialTemperature is the control temperature to command when
	// first connecting to the chiller (C). Must be within the supply
	// temperature warning thresholds.
	InitialTemperature float64 `yaml:"initial_temperature"`

	// Warning thresholds. Warnings are published but do not fault.
	LowAmbientTemperatureWarning  float64 `yaml:"low_ambient_temperature_warning"`
	HighAmbientTemperatureWarning float64 `yaml:"high_ambient_temperature_warning"`
	LowSupplyTemperatureWarning   float64 `yaml:"low_supply_temperature_warning"`
	HighSupplyTemperatureWarning  float64 `yaml:"high_supply_temperature_warning"`
	LowCoolantFlowRateWarning     float64 `yaml:"low_coolant_flow_rate_warning"`

	// Alarm thresholds. Alarms turn off the lamp and fault the supervisor.
	LowAmbientTemperatureAlarm  float64 `yaml:"low_ambient_temperature_alarm"`
	HighAmbientTemperatureAlarm float64 `yaml:"high_ambient_temperature_alarm"`
	LowSupplyTemperatureAlarm   float64 `yaml:"low_supply_temperature_alarm"`
	HighSupplyTemperatureAlarm  float64 `yaml:"high_supply_temperature_alarm"`
	LowCoolantFlowRateAlarm     float64 `yaml:"low_coolant_flow_rate_alarm"`

	// ConnectTimeout is the maximum time to connect to the chiller.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// CommandTimeout is the maximum time for the chiller to reply to
	// a command.
	CommandTimeout Duration `yaml:"command_timeout"`

	// TelemetryInterval is the pause after one set of telemetry
	// commands finishes before starting the next set.
	TelemetryInterval Duration `yaml:"telemetry_interval"`

	// WatchdogInterval is the interval between watchdog commands.
	// Watchdog data is more important than telemetry; it reports
	// whether the chiller is running and whether there are alarms.
	WatchdogInterval Duration `yaml:"watchdog_interval"`
}

// LampConfig configures the KiloArc lamp controller and its LabJack.
type LampConfig struct {
	// DeviceType is the LabJack model, e.g. "T4" or "T7".
	DeviceType string `yaml:"device_type"`

	// ConnectionType is the LabJack connection type, e.g. "TCP".
	ConnectionType string `yaml:"connection_type"`

	// Identifier is the LabJack identifier: a host name or IP address
	// for TCP/WIFI, a serial number for USB, or "ANY".
	Identifier string `yaml:"identifier"`

	// DefaultPower is the lamp power (W) used when a turn-on request
	// does not specify one. Must be in [800, 1200].
	DefaultPower float64 `yaml:"default_power"`

	// ConnectTimeout is the maximum time to connect and read state.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// CooldownPeriod is how long after turning off the lamp before it
	// may be turned back on. The KiloArc manual recommends 900s.
	CooldownPeriod Duration `yaml:"cooldown_period"`

	// WarmupPeriod is how long after turning on the lamp before it may
	// be turned off without forcing. The KiloArc manual recommends 900s.
	WarmupPeriod Duration `yaml:"warmup_period"`

	// MaxLampOnDelay is the maximum time for the photosensor to report
	// light after the lamp is commanded on.
	MaxLampOnDelay Duration `yaml:"max_lamp_on_delay"`

	// MaxLampOffDelay is the maximum time for the photosensor to report
	// darkness after the lamp is commanded off.
	MaxLampOffDelay Duration `yaml:"max_lamp_off_delay"`

	// ShutterTimeout is the maximum time for a shutter move. Be generous.
	ShutterTimeout Duration `yaml:"shutter_timeout"`
}

// Duration wraps time.Duration with YAML support for either a bare
// number of seconds (matching the original configuration files) or a
// Go duration string such as "900s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a number of seconds or a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler, emitting seconds.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).Seconds(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with reasonable defaults for
// everything except the chiller host and LabJack identifier.
func Default() *Config {
	return &Config{
		Chiller: ChillerConfig{
			Port:                          4001,
			DeviceID:                      "01",
			InitialTemperature:            20,
			LowAmbientTemperatureWarning:  5,
			HighAmbientTemperatureWarning: 40,
			LowSupplyTemperatureWarning:   10,
			HighSupplyTemperatureWarning:  30,
			LowCoolantFlowRateWarning:     1.5,
			LowAmbientTemperatureAlarm:    2,
			HighAmbientTemperatureAlarm:   45,
			LowSupplyTemperatureAlarm:     5,
			HighSupplyTemperatureAlarm:    35,
			LowCoolantFlowRateAlarm:       1,
			ConnectTimeout:                Duration(5 * time.Second),
			CommandTimeout:                Duration(5 * time.Second),
			TelemetryInterval:             Duration(10 * time.Second),
			WatchdogInterval:              Duration(2 * time.Second),
		},
		Lamp: LampConfig{
			DeviceType:      "T4",
			ConnectionType:  "TCP",
			DefaultPower:    1000,
			ConnectTimeout:  Duration(10 * time.Second),
			CooldownPeriod:  Duration(900 * time.Second),
			WarmupPeriod:    Duration(900 * time.Second),
			MaxLampOnDelay:  Duration(5 * time.Second),
			MaxLampOffDelay: Duration(5 * time.Second),
			ShutterTimeout:  Duration(30 * time.Second),
		},
	}
}

// Validate checks every field against the ranges of the original
// configuration schema.
func (c *Config) Validate() error {
	if err := c.Chiller.Validate(); err != nil {
		return fmt.Errorf("chiller: %w", err)
	}
	if err := c.Lamp.Validate(); err != nil {
		return fmt.Errorf("lamp: %w", err)
	}
	return nil
}

// Validate checks the chiller configuration.
func (c *ChillerConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: chiller host is required", ErrMissingSection)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port=%d must be in (0, 65535]", c.Port)
	}
	if len(c.DeviceID) != 2 {
		return fmt.Errorf("device_id=%q must be exactly 2 characters", c.DeviceID)
	}
	for name, pair := range map[string][2]float64{
		"low_supply_temperature_warning":  {c.LowSupplyTemperatureWarning, 0},
		"high_supply_temperature_warning": {c.HighSupplyTemperatureWarning, 0},
		"low_supply_temperature_alarm":    {c.LowSupplyTemperatureAlarm, 0},
		"high_supply_temperature_alarm":   {c.HighSupplyTemperatureAlarm, 0},
	} {
		v := pair[0]
		if v < MinSupplyTemperature || v > MaxSupplyTemperature {
			return fmt.Errorf("%s=%v must be in [%v, %v]",
				name, v, MinSupplyTemperature, MaxSupplyTemperature)
		}
	}
	for name, v := range map[string]float64{
		"low_ambient_temperature_warning":  c.LowAmbientTemperatureWarning,
		"high_ambient_temperature_warning": c.HighAmbientTemperatureWarning,
		"low_ambient_temperature_alarm":    c.LowAmbientTemperatureAlarm,
		"high_ambient_temperature_alarm":   c.HighAmbientTemperatureAlarm,
	} {
		if v < MinAmbientTemperature || v > MaxAmbientTemperature {
			return fmt.Errorf("%s=%v must be in [%v, %v]",
				name, v, MinAmbientTemperature, MaxAmbientTemperature)
		}
	}
	if c.LowCoolantFlowRateWarning < 0 {
		return fmt.Errorf("low_coolant_flow_rate_warning=%v must be >= 0",
			c.LowCoolantFlowRateWarning)
	}
	if c.LowCoolantFlowRateAlarm < 0 {
		return fmt.Errorf("low_coolant_flow_rate_alarm=%v must be >= 0",
			c.LowCoolantFlowRateAlarm)
	}
	if c.InitialTemperature < c.LowSupplyTemperatureWarning ||
		c.InitialTemperature > c.HighSupplyTemperatureWarning {
		return fmt.Errorf(
			"initial_temperature=%v must be in [low_supply_temperature_warning=%v, high_supply_temperature_warning=%v]",
			c.InitialTemperature, c.LowSupplyTemperatureWarning, c.HighSupplyTemperatureWarning)
	}
	for name, d := range map[string]Duration{
		"connect_timeout":    c.ConnectTimeout,
		"command_timeout":    c.CommandTimeout,
		"telemetry_interval": c.TelemetryInterval,
		"watchdog_interval":  c.WatchdogInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s=%v must be > 0", name, d.Std())
		}
	}
	return nil
}

// Validate checks the lamp configuration.
func (c *LampConfig) Validate() error {
	if c.Identifier == "" {
		return fmt.Errorf("%w: lamp identifier is required", ErrMissingSection)
	}
	switch c.DeviceType {
	case "T4", "T7":
	default:
		return fmt.Errorf("device_type=%q must be T4 or T7", c.DeviceType)
	}
	if c.ConnectionType == "" {
		return fmt.Errorf("%w: lamp connection_type is required", ErrMissingSection)
	}
	if c.DefaultPower < MinLampPower || c.DefaultPower > MaxLampPower {
		return fmt.Errorf("default_power=%v must be in [%v, %v]",
			c.DefaultPower, MinLampPower, MaxLampPower)
	}
	for name, d := range map[string]Duration{
		"connect_timeout":    c.ConnectTimeout,
		"cooldown_period":    c.CooldownPeriod,
		"warmup_period":      c.WarmupPeriod,
		"max_lamp_on_delay":  c.MaxLampOnDelay,
		"max_lamp_off_delay": c.MaxLampOffDelay,
		"shutter_timeout":    c.ShutterTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s=%v must be > 0", name, d.Std())
		}
	}
	return nil
}
