package chiller

import (
	"fmt"
)

// CommandID is the 2-digit ASCII command number of the ThermoTek protocol.
type CommandID string

// The full command set used by this controller.
//
// Note on 11 vs 13: the vendor manual and older control software
// disagree about which of the two reads TEC bank 2 current and which
// reads TEC drive level. The reply routing below follows the behavior
// observed on the actual T257P: 11 returns a signed bank current,
// 13 returns "ddd,C" or "ddd,H".
const (
	CmdWatchdog                CommandID = "01"
	CmdReadSetTemperature      CommandID = "03"
	CmdReadSupplyTemperature   CommandID = "04"
	CmdReadReturnTemperature   CommandID = "07"
	CmdReadAmbientTemperature  CommandID = "08"
	CmdReadCoolantFlowRate     CommandID = "09"
	CmdReadTECBank1Current     CommandID = "10"
	CmdReadTECBank2Current     CommandID = "11"
	CmdReadTECDriveLevel       CommandID = "13"
	CmdSetChillerStatus        CommandID = "15"
	CmdSetControlSensor        CommandID = "16"
	CmdSetControlTemperature   CommandID = "17"
	CmdReadL1Alarms            CommandID = "18"
	CmdReadL2Alarms            CommandID = "19"
	CmdReadWarnings            CommandID = "20"
	CmdSetHighSupplyTempWarn   CommandID = "21"
	CmdSetLowSupplyTempWarn    CommandID = "22"
	CmdSetHighAmbientTempWarn  CommandID = "23"
	CmdSetLowAmbientTempWarn   CommandID = "24"
	CmdSetLowCoolantFlowWarn   CommandID = "25"
	CmdSetHighSupplyTempAlarm  CommandID = "26"
	CmdSetLowSupplyTempAlarm   CommandID = "27"
	CmdSetHighAmbientTempAlarm CommandID = "28"
	CmdSetLowAmbientTempAlarm  CommandID = "29"
	CmdSetLowCoolantFlowAlarm  CommandID = "30"
	CmdReadUptime              CommandID = "49"
	CmdReadFanSpeed1           CommandID = "50"
	CmdReadFanSpeed2           CommandID = "51"
	CmdReadFanSpeed3           CommandID = "52"
	CmdReadFanSpeed4           CommandID = "53"
)

// DeviceRejection is returned when the chiller replies with a nonzero
// error digit. The reply data must not be decoded in that case.
type DeviceRejection struct {
	Command    string
	ErrorDigit byte
}

// rejectionDescriptions maps reply error digits to the manual's text.
var rejectionDescriptions = map[byte]string{
	'1': "checksum error",
	'2': "invalid command name",
	'3': "parameter out of range",
	'4': "invalid message length",
	'5': "sensor or feature not configured or used",
}

// Error implements the error interface.
func (e *DeviceRejection) Error() string {
	descr, ok := rejectionDescriptions[e.ErrorDigit]
	if !ok {
		descr = "unrecognized error code"
	}
	return fmt.Sprintf("chiller rejected command %q: %c: %s", e.Command, e.ErrorDigit, descr)
}

// ControlSensor selects which sensor drives the temperature control loop.
// The T257P only honors ControlSensorSupply despite the manual listing
// the others.
type ControlSensor int

const (
	ControlSensorSupply ControlSensor = iota
	ControlSensorReturn
	ControlSensorExternalRTD
	ControlSensorExternalThermistor
)

// String returns the sensor name.
func (s ControlSensor) String() string {
	switch s {
	case ControlSensorSupply:
		return "SUPPLY"
	case ControlSensorReturn:
		return "RETURN"
	case ControlSensorExternalRTD:
		return "EXTERNAL_RTD"
	case ControlSensorExternalThermistor:
		return "EXTERNAL_THERMISTOR"
	default:
		return "UNKNOWN"
	}
}

// ThresholdType identifies a warning or alarm threshold.
type ThresholdType int

const (
	ThresholdHighSupplyTemperature ThresholdType = iota
	ThresholdLowSupplyTemperature
	ThresholdHighAmbientTemperature
	ThresholdLowAmbientTemperature
	ThresholdLowCoolantFlowRate
)

// String returns the threshold name.
func (t ThresholdType) String() string {
	switch t {
	case ThresholdHighSupplyTemperature:
		return "HighSupplyTemperature"
	case ThresholdLowSupplyTemperature:
		return "LowSupplyTemperature"
	case ThresholdHighAmbientTemperature:
		return "HighAmbientTemperature"
	case ThresholdLowAmbientTemperature:
		return "LowAmbientTemperature"
	case ThresholdLowCoolantFlowRate:
		return "LowCoolantFlowRate"
	default:
		return "UNKNOWN"
	}
}

// warningCommands maps threshold types to set-warning-threshold commands.
var warningCommands = map[ThresholdType]string{
	ThresholdHighSupplyTemperature:  string(CmdSetHighSupplyTempWarn) + "sHiSpTWn",
	ThresholdLowSupplyTemperature:   string(CmdSetLowSupplyTempWarn) + "sLoSpTWn",
	ThresholdHighAmbientTemperature: string(CmdSetHighAmbientTempWarn) + "sHiAmTWn",
	ThresholdLowAmbientTemperature:  string(CmdSetLowAmbientTempWarn) + "sLoAmTWn",
	ThresholdLowCoolantFlowRate:     string(CmdSetLowCoolantFlowWarn) + "sLoPFlWn",
}

// alarmCommands maps threshold types to set-alarm-threshold commands.
var alarmCommands = map[ThresholdType]string{
	ThresholdHighSupplyTemperature:  string(CmdSetHighSupplyTempAlarm) + "sHiSpTAl",
	ThresholdLowSupplyTemperature:   string(CmdSetLowSupplyTempAlarm) + "sLoSpTAl",
	ThresholdHighAmbientTemperature: string(CmdSetHighAmbientTempAlarm) + "sHiAmTAl",
	ThresholdLowAmbientTemperature:  string(CmdSetLowAmbientTempAlarm) + "sLoAmTAl",
	ThresholdLowCoolantFlowRate:     string(CmdSetLowCoolantFlowAlarm) + "sLoPFlAl",
}

// Command builders. Each returns the command body (ID + mnemonic +
// data) ready for FrameCommand.

func watchdogCommand() string { return string(CmdWatchdog) + "WatchDog" }

func readSetTemperatureCommand() string { return string(CmdReadSetTemperature) + "rSetTemp" }

func readSupplyTemperatureCommand() string { return string(CmdReadSupplyTemperature) + "rSupplyT" }

func readReturnTemperatureCommand() string { return string(CmdReadReturnTemperature) + "rReturnT" }

func readAmbientTemperatureCommand() string { return string(CmdReadAmbientTemperature) + "rAmbTemp" }

func readCoolantFlowRateCommand() string { return string(CmdReadCoolantFlowRate) + "rProsFlo" }

func readTECBank1Command() string { return string(CmdReadTECBank1Current) + "rTECB1Cr" }

func readTECBank2Command() string { return string(CmdReadTECBank2Current) + "rTECB2Cr" }

func readTECDriveLevelCommand() string { return string(CmdReadTECDriveLevel) + "rTECDrLv" }

func readL1AlarmsCommand() string { return string(CmdReadL1Alarms) + "rAlrmLv1" }

func readUptimeCommand() string { return string(CmdReadUptime) + "rUpTime_" }

func readWarningsCommand() string { return string(CmdReadWarnings) + "rWarnLv1" }

// readL2AlarmsCommand builds a level 2 alarm read; sublevel must be 1 or 2.
func readL2AlarmsCommand(sublevel int) (string, error) {
	if sublevel != 1 && sublevel != 2 {
		return "", fmt.Errorf("sublevel=%d must be 1 or 2", sublevel)
	}
	return fmt.Sprintf("%srAlrmLv2%d", CmdReadL2Alarms, sublevel), nil
}

// readFanSpeedCommand builds a fan speed read; fanNum must be in [1, 4].
func readFanSpeedCommand(fanNum int) (string, error) {
	if fanNum < 1 || fanNum > numFans {
		return "", fmt.Errorf("fanNum=%d must be in [1, %d]", fanNum, numFans)
	}
	return fmt.Sprintf("%drFanSpd%d", fanNum+49, fanNum), nil
}

// setChillerStatusCommand builds a status set; status must be 0 (standby)
// or 1 (run).
func setChillerStatusCommand(status int) (string, error) {
	if status != 0 && status != 1 {
		return "", fmt.Errorf("status=%d must be 0 or 1", status)
	}
	return fmt.Sprintf("%ssStatus_%d", CmdSetChillerStatus, status), nil
}

// setControlSensorCommand builds a control sensor set.
func setControlSensorCommand(sensor ControlSensor) (string, error) {
	if sensor < ControlSensorSupply || sensor > ControlSensorExternalThermistor {
		return "", fmt.Errorf("invalid control sensor %d", sensor)
	}
	return fmt.Sprintf("%ssCtrlSen%d", CmdSetControlSensor, sensor), nil
}

// setControlTemperatureCommand builds a control temperature set (C).
func setControlTemperatureCommand(temperature float64) (string, error) {
	data, err := FormatValue(temperature, 10, 5, true)
	if err != nil {
		return "", err
	}
	return string(CmdSetControlTemperature) + "sCtrlTmp" + data, nil
}

// setWarningThresholdCommand builds a warning threshold set.
func setWarningThresholdCommand(thresholdType ThresholdType, value float64) (string, error) {
	return setThresholdCommand(warningCommands, thresholdType, value)
}

// setAlarmThresholdCommand builds an alarm threshold set.
func setAlarmThresholdCommand(thresholdType ThresholdType, value float64) (string, error) {
	return setThresholdCommand(alarmCommands, thresholdType, value)
}

func setThresholdCommand(commands map[ThresholdType]string, thresholdType ThresholdType, value float64) (string, error) {
	if thresholdType == ThresholdLowCoolantFlowRate && value <= 0 {
		return "", fmt.Errorf("value=%v must be positive for %s", value, thresholdType)
	}
	prefix, ok := commands[thresholdType]
	if !ok {
		return "", fmt.Errorf("unsupported threshold type %d", thresholdType)
	}
	data, err := FormatValue(value, 10, 5, true)
	if err != nil {
		return "", err
	}
	return prefix + data, nil
}
