package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
chiller:
  host: 192.168.1.51
  port: 4001
  initial_temperature: 20
  low_ambient_temperature_warning: 5
  high_ambient_temperature_warning: 40
  low_supply_temperature_warning: 10
  high_supply_temperature_warning: 30
  low_coolant_flow_rate_warning: 1.5
  low_ambient_temperature_alarm: 2
  high_ambient_temperature_alarm: 45
  low_supply_temperature_alarm: 5
  high_supply_temperature_alarm: 35
  low_coolant_flow_rate_alarm: 1
  connect_timeout: 5
  command_timeout: 5
  telemetry_interval: 10
  watchdog_interval: 2
lamp:
  device_type: T4
  connection_type: TCP
  identifier: ANY
  default_power: 1000
  connect_timeout: 10
  cooldown_period: 900
  warmup_period: 900
  max_lamp_on_delay: 5
  max_lamp_off_delay: 5
  shutter_timeout: 30
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.51", cfg.Chiller.Host)
	assert.Equal(t, "01", cfg.Chiller.DeviceID, "device ID should default to 01")
	assert.Equal(t, 900*time.Second, cfg.Lamp.CooldownPeriod.Std())
	assert.Equal(t, 2*time.Second, cfg.Chiller.WatchdogInterval.Std())
	assert.Equal(t, 1000.0, cfg.Lamp.DefaultPower)
}

func TestDurationStrings(t *testing.T) {
	yml := strings.Replace(validYAML, "cooldown_period: 900", "cooldown_period: 15m", 1)
	cfg, err := Parse([]byte(yml))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Lamp.CooldownPeriod.Std())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing chiller host",
			mutate:  func(c *Config) { c.Chiller.Host = "" },
			wantMsg: "host",
		},
		{
			name:    "default power too low",
			mutate:  func(c *Config) { c.Lamp.DefaultPower = 799 },
			wantMsg: "default_power",
		},
		{
			name:    "default power too high",
			mutate:  func(c *Config) { c.Lamp.DefaultPower = 1201 },
			wantMsg: "default_power",
		},
		{
			name:    "supply warning below manual minimum",
			mutate:  func(c *Config) { c.Chiller.LowSupplyTemperatureWarning = -8 },
			wantMsg: "low_supply_temperature_warning",
		},
		{
			name: "initial temperature outside warning window",
			mutate: func(c *Config) {
				c.Chiller.InitialTemperature = 35
			},
			wantMsg: "initial_temperature",
		},
		{
			name:    "zero watchdog interval",
			mutate:  func(c *Config) { c.Chiller.WatchdogInterval = 0 },
			wantMsg: "watchdog_interval",
		},
		{
			name:    "bad labjack device type",
			mutate:  func(c *Config) { c.Lamp.DeviceType = "T9" },
			wantMsg: "device_type",
		},
		{
			name:    "zero shutter timeout",
			mutate:  func(c *Config) { c.Lamp.ShutterTimeout = 0 },
			wantMsg: "shutter_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDefaultIsAlmostValid(t *testing.T) {
	cfg := Default()
	cfg.Chiller.Host = "127.0.0.1"
	cfg.Lamp.Identifier = "ANY"
	require.NoError(t, cfg.Validate())
}
