// Package proto defines the wire-level message types, result codes, and
// payload shapes shared by the frame codec, dispatcher, and retry engine.
// It holds no behavior beyond encoding/decoding a fixed set of structs.
package proto

// MsgType identifies the payload schema carried by a frame.
type MsgType uint8

const (
	MsgPing         MsgType = 0x00 // bridge -> controller
	MsgStatus       MsgType = 0x01 // controller -> bridge
	MsgAlarm        MsgType = 0x02 // controller -> bridge
	MsgBoot         MsgType = 0x03 // controller -> bridge
	MsgAck          MsgType = 0x04 // controller -> bridge
	MsgConfig       MsgType = 0x05 // controller -> bridge (snapshot); bridge -> controller (see MsgConfigCmd)
	MsgPowerMeter   MsgType = 0x0B // controller -> bridge, extended telemetry
	MsgEnvConfig    MsgType = 0x08 // controller -> bridge
	MsgCmdBrew      MsgType = 0x12 // bridge -> controller (always REJECTED; brew is lever-only)
	MsgHandshake    MsgType = 0x0C // bridge <-> controller
	MsgNack         MsgType = 0x0D // controller -> bridge
	MsgSetTemp      MsgType = 0x10 // bridge -> controller
	MsgSetPID       MsgType = 0x11 // bridge -> controller
	MsgMode         MsgType = 0x14 // bridge -> controller
	MsgConfigCmd    MsgType = 0x15 // bridge -> controller (subtype + variant payload)
	MsgGetConfig    MsgType = 0x16 // bridge -> controller
	MsgGetEnvConfig MsgType = 0x17 // bridge -> controller
	MsgBootloader   MsgType = 0x1F // bridge -> controller
)

// KnownType reports whether t is part of the declared message type table;
// an unknown type fails frame acceptance.
func KnownType(t MsgType) bool {
	switch t {
	case MsgPing, MsgStatus, MsgAlarm, MsgBoot, MsgAck, MsgConfig, MsgPowerMeter,
		MsgEnvConfig, MsgCmdBrew, MsgHandshake, MsgNack, MsgSetTemp, MsgSetPID,
		MsgMode, MsgConfigCmd, MsgGetConfig, MsgGetEnvConfig, MsgBootloader:
		return true
	default:
		return false
	}
}

// Result is the ACK/NACK result code carried back to the peer.
type Result uint8

const (
	ResultSuccess  Result = 0
	ResultInvalid  Result = 1
	ResultRejected Result = 2
	ResultFailed   Result = 3
	ResultTimeout  Result = 4
	ResultBusy     Result = 5
	ResultNotReady Result = 6
)

// AlarmCode enumerates the alarm codes.
type AlarmCode uint16

const (
	AlarmWatchdog       AlarmCode = 0x01
	AlarmBrewNTCFault   AlarmCode = 0x02
	AlarmSteamNTCFault  AlarmCode = 0x03
	AlarmBrewNTCShort   AlarmCode = 0x04
	AlarmSteamNTCShort  AlarmCode = 0x05
	AlarmBrewOverTemp   AlarmCode = 0x06
	AlarmSteamOverTemp  AlarmCode = 0x07
	AlarmSteamLevelLow  AlarmCode = 0x08
	AlarmNoReservoir    AlarmCode = 0x09
	AlarmTankLow        AlarmCode = 0x0A
	AlarmGroupTCFault   AlarmCode = 0x20
	AlarmPowerMeterLost AlarmCode = 0x21
	AlarmLinkTimeout    AlarmCode = 0x22
	AlarmBrewStarted    AlarmCode = 0x30
	AlarmBrewCompleted  AlarmCode = 0x31
)

// Severity classifies an alarm.
type Severity uint8

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityCritical Severity = 2
)

// SensorKind enumerates the sensor records tracked in internal/sensors.
type SensorKind uint8

const (
	SensorBrewNTC SensorKind = iota
	SensorSteamNTC
	SensorGroupTC
	SensorPressure
	SensorLevelReservoir
	SensorLevelTank
	SensorLevelSteam
	SensorPowerMeter
)

// String names a sensor kind for logs and metric labels.
func (k SensorKind) String() string {
	switch k {
	case SensorBrewNTC:
		return "brew_ntc"
	case SensorSteamNTC:
		return "steam_ntc"
	case SensorGroupTC:
		return "group_tc"
	case SensorPressure:
		return "pressure"
	case SensorLevelReservoir:
		return "level_reservoir"
	case SensorLevelTank:
		return "level_tank"
	case SensorLevelSteam:
		return "level_steam"
	case SensorPowerMeter:
		return "power_meter"
	default:
		return "unknown"
	}
}

// SafetyFlag is a single bit in the safety bitmask.
type SafetyFlag uint16

const (
	FlagOverTemp         SafetyFlag = 1 << iota
	FlagWaterLow
	FlagSensorFault
	FlagSSRFault
	FlagCommTimeout
	FlagEnvConfigInvalid
)

// CriticalFlags is the subset of flags whose presence forces SAFE.
const CriticalFlags = FlagOverTemp | FlagWaterLow | FlagSensorFault | FlagEnvConfigInvalid

// ControlState enumerates the control state machine's states.
type ControlState uint8

const (
	StateInit ControlState = iota
	StateIdle
	StateHeating
	StateReady
	StateBrewing
	StateFault
	StateSafe
)

func (s ControlState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateHeating:
		return "HEATING"
	case StateReady:
		return "READY"
	case StateBrewing:
		return "BREWING"
	case StateFault:
		return "FAULT"
	case StateSafe:
		return "SAFE"
	default:
		return "UNKNOWN"
	}
}

// HeatingStrategy enumerates the available heating strategies.
type HeatingStrategy uint8

const (
	StrategyBrewOnly HeatingStrategy = iota
	StrategySequential
	StrategyParallel
	StrategySmartStagger
)

// Mode is the bridge-commanded operating mode carried by MsgMode.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeBrew
	ModeSteam
)

// BoilerTarget identifies which boiler a SET_TEMP/SET_PID command targets.
type BoilerTarget uint8

const (
	TargetBrew BoilerTarget = iota
	TargetSteam
)

// ConfigSubtype identifies the variant payload carried by MsgConfigCmd.
type ConfigSubtype uint8

const (
	ConfigSubtypeHeatingStrategy ConfigSubtype = iota
	ConfigSubtypePreinfusion
	ConfigSubtypeEnv
)

const (
	// MaxPayload is the largest payload a frame may carry.
	MaxPayload = 56
	// MaxFrame is the largest encoded frame (header + payload + CRC).
	MaxFrame = 62
	// SyncByte is the fixed frame start marker.
	SyncByte = 0xAA
)
