package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrShortPayload is returned by Unmarshal* functions when the payload is
// too small for its schema.
type ErrShortPayload struct {
	Type MsgType
	Want int
	Got  int
}

func (e *ErrShortPayload) Error() string {
	return fmt.Sprintf("proto: %v payload too short: want %d got %d", e.Type, e.Want, e.Got)
}

func need(t MsgType, b []byte, n int) error {
	if len(b) < n {
		return &ErrShortPayload{Type: t, Want: n, Got: len(b)}
	}
	return nil
}

// Status is the controller->bridge periodic telemetry payload (MsgStatus).
type Status struct {
	BrewTempC10  int16
	SteamTempC10 int16
	GroupTempC10 int16
	PressureB100 uint16
	BrewSPC10    int16
	SteamSPC10   int16
	BrewDuty     uint8
	SteamDuty    uint8
	PumpDuty     uint8
	State        ControlState
	Flags        uint8
	WaterLevel   uint8
	PowerW       uint16
	UptimeMS     uint32
}

const statusSize = 24

func (s Status) Marshal() []byte {
	b := make([]byte, statusSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(s.BrewTempC10))
	binary.LittleEndian.PutUint16(b[2:4], uint16(s.SteamTempC10))
	binary.LittleEndian.PutUint16(b[4:6], uint16(s.GroupTempC10))
	binary.LittleEndian.PutUint16(b[6:8], s.PressureB100)
	binary.LittleEndian.PutUint16(b[8:10], uint16(s.BrewSPC10))
	binary.LittleEndian.PutUint16(b[10:12], uint16(s.SteamSPC10))
	b[12] = s.BrewDuty
	b[13] = s.SteamDuty
	b[14] = s.PumpDuty
	b[15] = byte(s.State)
	b[16] = s.Flags
	b[17] = s.WaterLevel
	binary.LittleEndian.PutUint16(b[18:20], s.PowerW)
	binary.LittleEndian.PutUint32(b[20:24], s.UptimeMS)
	return b
}

func UnmarshalStatus(b []byte) (Status, error) {
	var s Status
	if err := need(MsgStatus, b, statusSize); err != nil {
		return s, err
	}
	s.BrewTempC10 = int16(binary.LittleEndian.Uint16(b[0:2]))
	s.SteamTempC10 = int16(binary.LittleEndian.Uint16(b[2:4]))
	s.GroupTempC10 = int16(binary.LittleEndian.Uint16(b[4:6]))
	s.PressureB100 = binary.LittleEndian.Uint16(b[6:8])
	s.BrewSPC10 = int16(binary.LittleEndian.Uint16(b[8:10]))
	s.SteamSPC10 = int16(binary.LittleEndian.Uint16(b[10:12]))
	s.BrewDuty = b[12]
	s.SteamDuty = b[13]
	s.PumpDuty = b[14]
	s.State = ControlState(b[15])
	s.Flags = b[16]
	s.WaterLevel = b[17]
	s.PowerW = binary.LittleEndian.Uint16(b[18:20])
	s.UptimeMS = binary.LittleEndian.Uint32(b[20:24])
	return s, nil
}

// Alarm is MsgAlarm's payload.
type Alarm struct {
	Code     AlarmCode
	Severity Severity
	Active   bool
}

func (a Alarm) Marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], uint16(a.Code))
	b[2] = byte(a.Severity)
	if a.Active {
		b[3] = 1
	}
	return b
}

func UnmarshalAlarm(b []byte) (Alarm, error) {
	var a Alarm
	if err := need(MsgAlarm, b, 4); err != nil {
		return a, err
	}
	a.Code = AlarmCode(binary.LittleEndian.Uint16(b[0:2]))
	a.Severity = Severity(b[2])
	a.Active = b[3] != 0
	return a, nil
}

// Boot is MsgBoot's payload, sent once at link-up.
type Boot struct {
	FWMajor     uint8
	FWMinor     uint8
	FWPatch     uint8
	MachineType uint8
	PCBType     uint8
	PCBMajor    uint8
	PCBMinor    uint8
	ResetReason uint32
}

const bootSize = 11

func (b Boot) Marshal() []byte {
	out := make([]byte, bootSize)
	out[0] = b.FWMajor
	out[1] = b.FWMinor
	out[2] = b.FWPatch
	out[3] = b.MachineType
	out[4] = b.PCBType
	out[5] = b.PCBMajor
	out[6] = b.PCBMinor
	binary.LittleEndian.PutUint32(out[7:11], b.ResetReason)
	return out
}

func UnmarshalBoot(b []byte) (Boot, error) {
	var out Boot
	if err := need(MsgBoot, b, bootSize); err != nil {
		return out, err
	}
	out.FWMajor, out.FWMinor, out.FWPatch = b[0], b[1], b[2]
	out.MachineType, out.PCBType, out.PCBMajor, out.PCBMinor = b[3], b[4], b[5], b[6]
	out.ResetReason = binary.LittleEndian.Uint32(b[7:11])
	return out, nil
}

// AckPayload is the shared shape of MsgAck and MsgNack.
type AckPayload struct {
	CmdType  MsgType
	CmdSeq   uint8
	Result   Result
	Reserved uint8
}

func (a AckPayload) Marshal() []byte {
	return []byte{byte(a.CmdType), a.CmdSeq, byte(a.Result), a.Reserved}
}

func UnmarshalAck(t MsgType, b []byte) (AckPayload, error) {
	var a AckPayload
	if err := need(t, b, 4); err != nil {
		return a, err
	}
	a.CmdType = MsgType(b[0])
	a.CmdSeq = b[1]
	a.Result = Result(b[2])
	a.Reserved = b[3]
	return a, nil
}

// Config is the controller->bridge configuration snapshot (MsgConfig).
type Config struct {
	BrewSPC10    int16
	SteamSPC10   int16
	TempOffsetC10 int16
	KP100        uint16
	KI100        uint16
	KD100        uint16
	Strategy     HeatingStrategy
	MachineType  uint8
}

const configSize = 14

func (c Config) Marshal() []byte {
	b := make([]byte, configSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(c.BrewSPC10))
	binary.LittleEndian.PutUint16(b[2:4], uint16(c.SteamSPC10))
	binary.LittleEndian.PutUint16(b[4:6], uint16(c.TempOffsetC10))
	binary.LittleEndian.PutUint16(b[6:8], c.KP100)
	binary.LittleEndian.PutUint16(b[8:10], c.KI100)
	binary.LittleEndian.PutUint16(b[10:12], c.KD100)
	b[12] = byte(c.Strategy)
	b[13] = c.MachineType
	return b
}

func UnmarshalConfig(b []byte) (Config, error) {
	var c Config
	if err := need(MsgConfig, b, configSize); err != nil {
		return c, err
	}
	c.BrewSPC10 = int16(binary.LittleEndian.Uint16(b[0:2]))
	c.SteamSPC10 = int16(binary.LittleEndian.Uint16(b[2:4]))
	c.TempOffsetC10 = int16(binary.LittleEndian.Uint16(b[4:6]))
	c.KP100 = binary.LittleEndian.Uint16(b[6:8])
	c.KI100 = binary.LittleEndian.Uint16(b[8:10])
	c.KD100 = binary.LittleEndian.Uint16(b[10:12])
	c.Strategy = HeatingStrategy(b[12])
	c.MachineType = b[13]
	return c, nil
}

// EnvConfig is MsgEnvConfig's payload, a fixed 18-byte wire record.
type EnvConfig struct {
	NominalVoltage uint16
	MaxCurrentDraw float32
	DerivedA       [3]float32
}

const envConfigSize = 18

func (e EnvConfig) Marshal() []byte {
	b := make([]byte, envConfigSize)
	binary.LittleEndian.PutUint16(b[0:2], e.NominalVoltage)
	binary.LittleEndian.PutUint32(b[2:6], math.Float32bits(e.MaxCurrentDraw))
	for i, v := range e.DerivedA {
		binary.LittleEndian.PutUint32(b[6+i*4:10+i*4], math.Float32bits(v))
	}
	return b
}

func UnmarshalEnvConfig(b []byte) (EnvConfig, error) {
	var e EnvConfig
	if err := need(MsgEnvConfig, b, envConfigSize); err != nil {
		return e, err
	}
	e.NominalVoltage = binary.LittleEndian.Uint16(b[0:2])
	e.MaxCurrentDraw = math.Float32frombits(binary.LittleEndian.Uint32(b[2:6]))
	for i := range e.DerivedA {
		e.DerivedA[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[6+i*4 : 10+i*4]))
	}
	return e, nil
}

// Handshake is exchanged by both sides at link start (MsgHandshake).
type Handshake struct {
	ProtoMajor    uint8
	ProtoMinor    uint8
	Capabilities  uint8
	Reserved      uint8
	MaxPacketSize uint16
}

const handshakeSize = 6

func (h Handshake) Marshal() []byte {
	b := make([]byte, handshakeSize)
	b[0], b[1], b[2], b[3] = h.ProtoMajor, h.ProtoMinor, h.Capabilities, h.Reserved
	binary.LittleEndian.PutUint16(b[4:6], h.MaxPacketSize)
	return b
}

func UnmarshalHandshake(b []byte) (Handshake, error) {
	var h Handshake
	if err := need(MsgHandshake, b, handshakeSize); err != nil {
		return h, err
	}
	h.ProtoMajor, h.ProtoMinor, h.Capabilities, h.Reserved = b[0], b[1], b[2], b[3]
	h.MaxPacketSize = binary.LittleEndian.Uint16(b[4:6])
	return h, nil
}

// PowerMeter is the extended telemetry message (MsgPowerMeter), emitted on a
// 1 s cadence once enabled.
type PowerMeter struct {
	PowerW      uint16
	VoltageV10  uint16
	FreqHz100   uint16
	PowerFactor uint8
}

const powerMeterSize = 7

func (p PowerMeter) Marshal() []byte {
	b := make([]byte, powerMeterSize)
	binary.LittleEndian.PutUint16(b[0:2], p.PowerW)
	binary.LittleEndian.PutUint16(b[2:4], p.VoltageV10)
	binary.LittleEndian.PutUint16(b[4:6], p.FreqHz100)
	b[6] = p.PowerFactor
	return b
}

func UnmarshalPowerMeter(b []byte) (PowerMeter, error) {
	var p PowerMeter
	if err := need(MsgPowerMeter, b, powerMeterSize); err != nil {
		return p, err
	}
	p.PowerW = binary.LittleEndian.Uint16(b[0:2])
	p.VoltageV10 = binary.LittleEndian.Uint16(b[2:4])
	p.FreqHz100 = binary.LittleEndian.Uint16(b[4:6])
	p.PowerFactor = b[6]
	return p, nil
}

// Ping is the bridge->controller keepalive (MsgPing).
type Ping struct{ TimestampMS uint32 }

func (p Ping) Marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, p.TimestampMS)
	return b
}

func UnmarshalPing(b []byte) (Ping, error) {
	var p Ping
	if err := need(MsgPing, b, 4); err != nil {
		return p, err
	}
	p.TimestampMS = binary.LittleEndian.Uint32(b)
	return p, nil
}

// SetTemp is MsgSetTemp's payload.
type SetTemp struct {
	Target BoilerTarget
	TempC10 int16
}

func (s SetTemp) Marshal() []byte {
	b := make([]byte, 3)
	b[0] = byte(s.Target)
	binary.LittleEndian.PutUint16(b[1:3], uint16(s.TempC10))
	return b
}

func UnmarshalSetTemp(b []byte) (SetTemp, error) {
	var s SetTemp
	if err := need(MsgSetTemp, b, 3); err != nil {
		return s, err
	}
	s.Target = BoilerTarget(b[0])
	s.TempC10 = int16(binary.LittleEndian.Uint16(b[1:3]))
	return s, nil
}

// SetPID is MsgSetPID's payload.
type SetPID struct {
	Target BoilerTarget
	KP100  uint16
	KI100  uint16
	KD100  uint16
}

func (s SetPID) Marshal() []byte {
	b := make([]byte, 7)
	b[0] = byte(s.Target)
	binary.LittleEndian.PutUint16(b[1:3], s.KP100)
	binary.LittleEndian.PutUint16(b[3:5], s.KI100)
	binary.LittleEndian.PutUint16(b[5:7], s.KD100)
	return b
}

func UnmarshalSetPID(b []byte) (SetPID, error) {
	var s SetPID
	if err := need(MsgSetPID, b, 7); err != nil {
		return s, err
	}
	s.Target = BoilerTarget(b[0])
	s.KP100 = binary.LittleEndian.Uint16(b[1:3])
	s.KI100 = binary.LittleEndian.Uint16(b[3:5])
	s.KD100 = binary.LittleEndian.Uint16(b[5:7])
	return s, nil
}

// ModeCmd is MsgMode's payload.
type ModeCmd struct{ Mode Mode }

func (m ModeCmd) Marshal() []byte { return []byte{byte(m.Mode)} }

func UnmarshalMode(b []byte) (ModeCmd, error) {
	var m ModeCmd
	if err := need(MsgMode, b, 1); err != nil {
		return m, err
	}
	m.Mode = Mode(b[0])
	return m, nil
}

// HeatingStrategyCfg is the MsgConfigCmd/ConfigSubtypeHeatingStrategy variant.
type HeatingStrategyCfg struct{ Strategy HeatingStrategy }

func (h HeatingStrategyCfg) Marshal() []byte {
	return []byte{byte(ConfigSubtypeHeatingStrategy), byte(h.Strategy)}
}

// PreinfusionCfg is the MsgConfigCmd/ConfigSubtypePreinfusion variant.
type PreinfusionCfg struct {
	OnMS    uint16
	PauseMS uint16
	Enabled bool
}

func (p PreinfusionCfg) Marshal() []byte {
	b := make([]byte, 6)
	b[0] = byte(ConfigSubtypePreinfusion)
	binary.LittleEndian.PutUint16(b[1:3], p.OnMS)
	binary.LittleEndian.PutUint16(b[3:5], p.PauseMS)
	if p.Enabled {
		b[5] = 1
	}
	return b
}

func UnmarshalPreinfusionCfg(b []byte) (PreinfusionCfg, error) {
	var p PreinfusionCfg
	if err := need(MsgConfigCmd, b, 5); err != nil {
		return p, err
	}
	p.OnMS = binary.LittleEndian.Uint16(b[0:2])
	p.PauseMS = binary.LittleEndian.Uint16(b[2:4])
	p.Enabled = b[4] != 0
	return p, nil
}

// EnvCfg is the MsgConfigCmd/ConfigSubtypeEnv variant (bridge requesting new
// environmental limits; distinct from the controller's MsgEnvConfig report).
type EnvCfg struct {
	NominalVoltage uint16
	MaxCurrentDraw float32
}

func (e EnvCfg) Marshal() []byte {
	b := make([]byte, 7)
	b[0] = byte(ConfigSubtypeEnv)
	binary.LittleEndian.PutUint16(b[1:3], e.NominalVoltage)
	binary.LittleEndian.PutUint32(b[3:7], math.Float32bits(e.MaxCurrentDraw))
	return b
}

func UnmarshalEnvCfg(b []byte) (EnvCfg, error) {
	var e EnvCfg
	if err := need(MsgConfigCmd, b, 6); err != nil {
		return e, err
	}
	e.NominalVoltage = binary.LittleEndian.Uint16(b[0:2])
	e.MaxCurrentDraw = math.Float32frombits(binary.LittleEndian.Uint32(b[2:6]))
	return e, nil
}

// ConfigSubtypeOf peeks the subtype byte of a MsgConfigCmd payload.
func ConfigSubtypeOf(b []byte) (ConfigSubtype, []byte, error) {
	if err := need(MsgConfigCmd, b, 1); err != nil {
		return 0, nil, err
	}
	return ConfigSubtype(b[0]), b[1:], nil
}

// BootloaderCmd is MsgBootloader's optional payload (magic == 0xFFFFFFFF
// confirms intent; an absent payload is also accepted).
type BootloaderCmd struct {
	HasMagic bool
	Magic    uint32
}

func UnmarshalBootloaderCmd(b []byte) (BootloaderCmd, error) {
	if len(b) == 0 {
		return BootloaderCmd{}, nil
	}
	if err := need(MsgBootloader, b, 4); err != nil {
		return BootloaderCmd{}, err
	}
	return BootloaderCmd{HasMagic: true, Magic: binary.LittleEndian.Uint32(b[0:4])}, nil
}
