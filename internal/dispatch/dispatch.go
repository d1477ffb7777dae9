// Package dispatch implements the message dispatcher: it decodes an
// inbound frame's payload against its schema, validates it, applies it (or
// rejects it) against the current control/config state, and replies with
// the appropriate ACK/NACK result code. It also owns the outbound cadences
// (status, power meter, pings) and builds the CONFIG, ENV_CONFIG and ALARM
// messages.
package dispatch

import (
	"time"

	"github.com/mizrachiran/brewos/internal/backpressure"
	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/metrics"
	"github.com/mizrachiran/brewos/internal/proto"
	"github.com/mizrachiran/brewos/internal/retry"
)

// Outbound cadences.
const (
	StatusInterval     = 500 * time.Millisecond
	PowerMeterInterval = 1 * time.Second
	PingAfterSilence   = 5 * time.Second
)

// Handlers are the capabilities the dispatcher applies validated commands
// to. Every field is injected; the dispatcher owns no actuator, config
// store, or control machine directly.
type Handlers struct {
	ControlState   func() proto.ControlState
	EnvConfigValid func() bool

	SetTemp            func(proto.SetTemp) error
	SetPID             func(proto.SetPID) error
	SetMode            func(proto.Mode) error
	SetHeatingStrategy func(proto.HeatingStrategy) error
	SetPreinfusion     func(proto.PreinfusionCfg) error
	SetEnv             func(proto.EnvCfg) error

	GetConfig    func() proto.Config
	GetEnvConfig func() proto.EnvConfig

	EnterBootloader func() error
}

// Out is one reply the dispatcher wants transmitted. Seq is left zero; the
// caller (the single-threaded sender) assigns the outbound sequence number
// at send time.
type Out struct {
	Type    proto.MsgType
	Payload []byte
}

// Dispatcher routes decoded frames to Handlers and tracks the outbound
// cadence timers. It is not safe for concurrent use: the tick scheduler is
// its single owner.
type Dispatcher struct {
	h  Handlers
	rx retry.SeqFilter
	bp *backpressure.Policy

	lastStatus      time.Time
	lastPowerMeter  time.Time
	lastPeerTraffic time.Time
	powerMeterOn    bool

	inFlight int
}

// New creates a Dispatcher. bp governs inbound admission under backpressure;
// it may be nil to disable backpressure (tests only).
func New(h Handlers, bp *backpressure.Policy) *Dispatcher {
	return &Dispatcher{h: h, bp: bp}
}

// Pending satisfies backpressure.Depther: the dispatcher's own in-flight
// command counter is the "queue depth" backpressure admission decisions are
// made against.
func (d *Dispatcher) Pending() int { return d.inFlight }

// HandleInbound decodes and applies one inbound frame. It returns the
// replies to transmit (always starting with the ACK/NACK, plus the CONFIG
// or ENV_CONFIG snapshot that a getter or a successful config-changing
// command triggers): nil if the frame was silently
// dropped by the sequence filter (duplicate/out-of-order — these are link
// errors, never surfaced to the peer). Backpressure always yields a reply
// (NACK{BUSY}), never a silent drop.
func (d *Dispatcher) HandleInbound(now time.Time, f frame.Frame) []Out {
	d.lastPeerTraffic = now

	switch d.rx.Accept(f.Seq) {
	case retry.RxDuplicate, retry.RxOutOfOrder:
		return nil
	}

	if d.bp != nil && !d.bp.Admit() {
		nack := ackOut(f.Type, f.Seq, proto.ResultBusy)
		nack.Type = proto.MsgNack
		return []Out{*nack}
	}

	d.inFlight++
	defer func() { d.inFlight-- }()

	result := d.apply(f)
	outs := []Out{*ackOut(f.Type, f.Seq, result)}
	if result == proto.ResultSuccess {
		switch f.Type {
		case proto.MsgGetConfig:
			outs = append(outs, d.ConfigSnapshot())
		case proto.MsgGetEnvConfig:
			outs = append(outs, d.EnvConfigSnapshot())
		case proto.MsgSetTemp, proto.MsgSetPID, proto.MsgConfigCmd:
			outs = append(outs, d.ConfigSnapshot())
		}
	}
	return outs
}

func ackOut(cmdType proto.MsgType, cmdSeq uint8, result proto.Result) *Out {
	return &Out{
		Type: proto.MsgAck,
		Payload: proto.AckPayload{
			CmdType: cmdType,
			CmdSeq:  cmdSeq,
			Result:  result,
		}.Marshal(),
	}
}

// apply validates and applies one command, returning the ACK result code.
// Non-command types (status/alarm/etc, which only the controller sends) are
// INVALID if received here.
func (d *Dispatcher) apply(f frame.Frame) proto.Result {
	if !d.h.EnvConfigValid() && f.Type != proto.MsgGetConfig && f.Type != proto.MsgGetEnvConfig && f.Type != proto.MsgConfigCmd {
		return proto.ResultNotReady
	}

	switch f.Type {
	case proto.MsgPing:
		_, err := proto.UnmarshalPing(f.Payload)
		if err != nil {
			return proto.ResultInvalid
		}
		return proto.ResultSuccess

	case proto.MsgSetTemp:
		cmd, err := proto.UnmarshalSetTemp(f.Payload)
		if err != nil || cmd.TempC10 < 0 || cmd.TempC10 > 2000 {
			return proto.ResultInvalid
		}
		if cmd.Target != proto.TargetBrew && cmd.Target != proto.TargetSteam {
			return proto.ResultInvalid
		}
		if err := d.h.SetTemp(cmd); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	case proto.MsgSetPID:
		cmd, err := proto.UnmarshalSetPID(f.Payload)
		if err != nil {
			return proto.ResultInvalid
		}
		if err := d.h.SetPID(cmd); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	case proto.MsgMode:
		cmd, err := proto.UnmarshalMode(f.Payload)
		if err != nil || cmd.Mode > proto.ModeSteam {
			return proto.ResultInvalid
		}
		if cmd.Mode != proto.ModeIdle && d.h.ControlState() == proto.StateBrewing {
			return proto.ResultRejected
		}
		if err := d.h.SetMode(cmd.Mode); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	case proto.MsgConfigCmd:
		return d.applyConfigCmd(f.Payload)

	case proto.MsgGetConfig:
		return proto.ResultSuccess

	case proto.MsgGetEnvConfig:
		return proto.ResultSuccess

	case proto.MsgCmdBrew:
		// Always rejected: brew is lever-only, never triggered over the wire.
		return proto.ResultRejected

	case proto.MsgBootloader:
		if _, err := proto.UnmarshalBootloaderCmd(f.Payload); err != nil {
			return proto.ResultInvalid
		}
		if d.h.ControlState() == proto.StateBrewing {
			return proto.ResultRejected
		}
		if err := d.h.EnterBootloader(); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	default:
		return proto.ResultInvalid
	}
}

func (d *Dispatcher) applyConfigCmd(payload []byte) proto.Result {
	subtype, rest, err := proto.ConfigSubtypeOf(payload)
	if err != nil {
		return proto.ResultInvalid
	}
	switch subtype {
	case proto.ConfigSubtypeHeatingStrategy:
		if len(rest) < 1 || rest[0] > byte(proto.StrategySmartStagger) {
			return proto.ResultInvalid
		}
		if err := d.h.SetHeatingStrategy(proto.HeatingStrategy(rest[0])); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	case proto.ConfigSubtypePreinfusion:
		cfg, err := proto.UnmarshalPreinfusionCfg(rest)
		if err != nil {
			return proto.ResultInvalid
		}
		if err := d.h.SetPreinfusion(cfg); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	case proto.ConfigSubtypeEnv:
		cfg, err := proto.UnmarshalEnvCfg(rest)
		if err != nil || cfg.NominalVoltage == 0 || cfg.MaxCurrentDraw <= 0 {
			return proto.ResultInvalid
		}
		if err := d.h.SetEnv(cfg); err != nil {
			return proto.ResultFailed
		}
		return proto.ResultSuccess

	default:
		return proto.ResultInvalid
	}
}

// EnablePowerMeter turns the 1 s power-meter cadence on or off; it is only
// emitted while enabled.
func (d *Dispatcher) EnablePowerMeter(on bool) { d.powerMeterOn = on }

// OutboundTick returns the outbound messages due this tick. status is the
// caller's current telemetry snapshot; power is only consulted if the
// power-meter cadence is enabled and due.
func (d *Dispatcher) OutboundTick(now time.Time, status proto.Status, power proto.PowerMeter) []Out {
	var outs []Out

	if d.lastStatus.IsZero() || now.Sub(d.lastStatus) >= StatusInterval {
		d.lastStatus = now
		outs = append(outs, Out{Type: proto.MsgStatus, Payload: status.Marshal()})
		metrics.IncPacketsTx()
	}

	if d.powerMeterOn && (d.lastPowerMeter.IsZero() || now.Sub(d.lastPowerMeter) >= PowerMeterInterval) {
		d.lastPowerMeter = now
		outs = append(outs, Out{Type: proto.MsgPowerMeter, Payload: power.Marshal()})
		metrics.IncPacketsTx()
	}

	if !d.lastPeerTraffic.IsZero() && now.Sub(d.lastPeerTraffic) >= PingAfterSilence {
		outs = append(outs, Out{Type: proto.MsgPing, Payload: proto.Ping{TimestampMS: uint32(now.UnixMilli())}.Marshal()})
		metrics.IncPacketsTx()
	}

	return outs
}

// ConfigSnapshot builds the CONFIG broadcast sent at boot and after any
// config-changing ACK.
func (d *Dispatcher) ConfigSnapshot() Out {
	return Out{Type: proto.MsgConfig, Payload: d.h.GetConfig().Marshal()}
}

// EnvConfigSnapshot builds the ENV_CONFIG broadcast sent at boot.
func (d *Dispatcher) EnvConfigSnapshot() Out {
	return Out{Type: proto.MsgEnvConfig, Payload: d.h.GetEnvConfig().Marshal()}
}

// Alarm builds an ALARM message. cmd/controller does not call it, so
// safety-flag edges are not sent to the peer as ALARM frames.
func Alarm(code proto.AlarmCode, sev proto.Severity, active bool) Out {
	return Out{Type: proto.MsgAlarm, Payload: proto.Alarm{Code: code, Severity: sev, Active: active}.Marshal()}
}
