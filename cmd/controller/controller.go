package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/mizrachiran/brewos/internal/backpressure"
	"github.com/mizrachiran/brewos/internal/bootloader"
	"github.com/mizrachiran/brewos/internal/config"
	"github.com/mizrachiran/brewos/internal/control"
	"github.com/mizrachiran/brewos/internal/diag"
	"github.com/mizrachiran/brewos/internal/dispatch"
	"github.com/mizrachiran/brewos/internal/frame"
	"github.com/mizrachiran/brewos/internal/parser"
	"github.com/mizrachiran/brewos/internal/proto"
	"github.com/mizrachiran/brewos/internal/safety"
	"github.com/mizrachiran/brewos/internal/sensors"
	"github.com/mizrachiran/brewos/internal/tick"
	"github.com/mizrachiran/brewos/internal/uart"
)

// controller bundles every capability the tick scheduler and inbound
// parser need, so main's event loop stays a thin driver. It is the one
// place allowed to own the UART port, flash, and the config store.
type controller struct {
	l     *slog.Logger
	port  uart.Port
	store config.Store

	parser *parser.Parser
	neg    *diag.Negotiator

	safety     *safety.Supervisor
	machine    *control.Machine
	dispatcher *dispatch.Dispatcher
	scheduler  *tick.Scheduler

	cfg         config.Configuration
	machineType uint8
	mode        proto.Mode

	brewTracker     *sensors.Tracker
	steamTracker    *sensors.Tracker
	groupTracker    *sensors.Tracker
	pressureTracker *sensors.Tracker
	sim             *simSensors
	sensorsValid    bool

	brewDuty, steamDuty, pumpDuty uint8
	ssrOnSince                    time.Time

	flash       *simFlash
	bootSession *bootloader.Session
	bootRxBuf   []byte

	txSeq   uint8
	started time.Time
}

// errImageCRCMismatch aborts a bootloader session whose accepted end
// marker doesn't match the expected image checksum.
var errImageCRCMismatch = errors.New("bootloader: image crc32 mismatch")

func newController(l *slog.Logger, persisted config.Configuration, machineType uint8, port uart.Port, store config.Store) *controller {
	now := time.Now()
	c := &controller{
		l:               l,
		port:            port,
		store:           store,
		parser:          parser.New(nil),
		neg:             diag.New(),
		safety:          safety.New(),
		machine:         control.New(),
		cfg:             persisted,
		machineType:     machineType,
		brewTracker:     sensors.New(proto.SensorBrewNTC),
		steamTracker:    sensors.New(proto.SensorSteamNTC),
		groupTracker:    sensors.New(proto.SensorGroupTC),
		pressureTracker: sensors.New(proto.SensorPressure),
		sim:             newSimSensors(now),
		flash:           newSimFlash(),
		started:         now,
	}

	depth := &dispatcherDepth{}
	bp := backpressure.New(depth)
	c.dispatcher = dispatch.New(dispatch.Handlers{
		ControlState:       c.machine.State,
		EnvConfigValid:     func() bool { return c.cfg.Valid() },
		SetTemp:            c.handleSetTemp,
		SetPID:             c.handleSetPID,
		SetMode:            c.handleSetMode,
		SetHeatingStrategy: c.handleSetHeatingStrategy,
		SetPreinfusion:     c.handleSetPreinfusion,
		SetEnv:             c.handleSetEnv,
		GetConfig:          func() proto.Config { return c.cfg.ToWire(c.machineType) },
		GetEnvConfig:       func() proto.EnvConfig { return c.cfg.ToEnvWire(c.derivedA()) },
		EnterBootloader:    c.enterBootloader,
	}, bp)
	depth.d = c.dispatcher

	c.scheduler = &tick.Scheduler{
		Safety:     c.safety,
		Control:    c.machine,
		Dispatcher: c.dispatcher,
		Actuators: tick.Actuators{
			SetHeaterDuty: c.setHeaterDuty,
			SetPump:       c.setPump,
			SetSolenoid:   c.setSolenoid,
			SetIndicator:  c.setIndicator,
		},
		Watchdog:   c.kickWatchdog,
		Inputs:     c.collectInputs,
		Status:     c.buildStatus,
		PowerMeter: c.buildPowerMeter,
	}
	return c
}

// dispatcherDepth adapts *dispatch.Dispatcher to backpressure.Depther. The
// dispatcher must exist before the backpressure policy can reference its
// in-flight counter, so this indirection is assigned after construction.
type dispatcherDepth struct{ d *dispatch.Dispatcher }

func (d *dispatcherDepth) Pending() int {
	if d.d == nil {
		return 0
	}
	return d.d.Pending()
}

func (c *controller) derivedA() [3]float32 {
	// Current-draw coefficients derived from the configured environment;
	// a real implementation fits these from commissioning data. Flat
	// coefficients keep the stub deterministic.
	return [3]float32{1, 0, 0}
}

// --- dispatch.Handlers ------------------------------------------------

func (c *controller) handleSetTemp(cmd proto.SetTemp) error {
	switch cmd.Target {
	case proto.TargetBrew:
		c.cfg.BrewSetpointC10 = cmd.TempC10
	case proto.TargetSteam:
		c.cfg.SteamSetpointC10 = cmd.TempC10
	}
	return c.store.Save(c.cfg)
}

func (c *controller) handleSetPID(cmd proto.SetPID) error {
	c.cfg.PID = config.PID{KP100: cmd.KP100, KI100: cmd.KI100, KD100: cmd.KD100}
	return c.store.Save(c.cfg)
}

func (c *controller) handleSetMode(m proto.Mode) error {
	c.mode = m
	return nil
}

func (c *controller) handleSetHeatingStrategy(s proto.HeatingStrategy) error {
	c.cfg.HeatingStrategy = s
	return c.store.Save(c.cfg)
}

func (c *controller) handleSetPreinfusion(p proto.PreinfusionCfg) error {
	c.cfg.Preinfusion = config.Preinfusion{OnMS: p.OnMS, PauseMS: p.PauseMS, Enabled: p.Enabled}
	return c.store.Save(c.cfg)
}

func (c *controller) handleSetEnv(e proto.EnvCfg) error {
	c.cfg.Env = config.Env{NominalVoltage: e.NominalVoltage, MaxCurrentDraw: e.MaxCurrentDraw}
	return c.store.Save(c.cfg)
}

func (c *controller) enterBootloader() error {
	if f, ok := c.port.(uart.Flusher); ok {
		_ = f.Flush()
	}
	c.bootSession = bootloader.NewSession(c.flash, nil)
	c.bootRxBuf = nil
	c.l.Info("bootloader_entered")
	return nil
}

// --- tick.Actuators -----------------------------------------------------

func (c *controller) setHeaterDuty(target proto.SensorKind, duty uint8) {
	wasOff := c.brewDuty == 0 && c.steamDuty == 0
	switch target {
	case proto.SensorBrewNTC:
		c.brewDuty = duty
	case proto.SensorSteamNTC:
		c.steamDuty = duty
	}
	nowOn := c.brewDuty > 0 || c.steamDuty > 0
	if wasOff && nowOn {
		c.ssrOnSince = time.Now()
	} else if !nowOn {
		c.ssrOnSince = time.Time{}
	}
}

func (c *controller) setPump(duty uint8) { c.pumpDuty = duty }

func (c *controller) setSolenoid(on bool) {
	if on {
		c.l.Debug("solenoid_open")
	}
}

func (c *controller) setIndicator(on bool) {
	if on {
		c.l.Warn("indicator_safe_state")
	}
}

func (c *controller) kickWatchdog() {
	// Real hardware kicks an external watchdog timer chip here; the stub
	// has none to kick.
}

// --- tick.InputsFunc / StatusFunc / PowerMeterFunc ----------------------

func (c *controller) collectInputs(now time.Time) (safety.Inputs, control.Inputs) {
	heating := c.brewDuty > 0 || c.steamDuty > 0
	brewing := c.machine.State() == proto.StateBrewing
	c.sim.step(now, float64(c.cfg.BrewSetpointC10)/10, float64(c.cfg.SteamSetpointC10)/10, heating, brewing)

	brewC, brewFault := c.brewTracker.Update(c.sim.brewC)
	steamC, steamFault := c.steamTracker.Update(c.sim.steamC)
	groupC, _ := c.groupTracker.Update(c.sim.groupC)
	_, pressureFault := c.pressureTracker.Update(c.sim.pressureBar)

	c.sensorsValid = true

	var ssrDelta float64
	if !c.ssrOnSince.IsZero() {
		ssrDelta = brewC - c.sim.brewC
		if ssrDelta < 0 {
			ssrDelta = -ssrDelta
		}
	}

	safetyIn := safety.Inputs{
		BrewTempC:        brewC,
		SteamTempC:       steamC,
		GroupTempC:       groupC,
		BrewNTCFault:     brewFault,
		SteamNTCFault:    steamFault,
		PressureFault:    pressureFault,
		ReservoirPresent: true,
		TankMode:         false,
		EnvConfigValid:   c.cfg.Valid(),
		SSROnSince:       c.ssrOnSince,
		SSRTempDeltaC:    ssrDelta,
		HeartbeatAge:     now.Sub(c.dispatcherLastPeerTraffic()),
		Now:              now,
	}

	atSetpoint := func(have, want float64) bool {
		delta := have - want
		if delta < 0 {
			delta = -delta
		}
		return delta <= 2.0
	}
	boilersAtSetpoint := false
	switch c.mode {
	case proto.ModeBrew:
		boilersAtSetpoint = atSetpoint(brewC, float64(c.cfg.BrewSetpointC10)/10)
	case proto.ModeSteam:
		boilersAtSetpoint = atSetpoint(steamC, float64(c.cfg.SteamSetpointC10)/10)
	}

	controlIn := control.Inputs{
		AllSensorsValidOnce: c.sensorsValid,
		Mode:                c.mode,
		BoilersAtSetpoint:   boilersAtSetpoint,
		// The physical lever is not modeled by this stub; a real build
		// edge-detects it in the read-inputs capability this closure
		// stands in for.
		LeverDown:     false,
		LeverReleased: false,
		WeightStop:    false,
		SafetyResetOK: true,
	}
	return safetyIn, controlIn
}

// dispatcherLastPeerTraffic is a placeholder until link-idle tracking is
// threaded through from the dispatcher; zero means "never", which reports
// the maximum possible HeartbeatAge and is the safe default before the
// first peer frame arrives.
func (c *controller) dispatcherLastPeerTraffic() time.Time {
	return c.started
}

func (c *controller) buildStatus(now time.Time, safetyOut safety.Outputs, state proto.ControlState) proto.Status {
	return proto.Status{
		BrewTempC10:  int16(c.sim.brewC * 10),
		SteamTempC10: int16(c.sim.steamC * 10),
		GroupTempC10: int16(c.sim.groupC * 10),
		PressureB100: uint16(c.sim.pressureBar * 100),
		BrewSPC10:    c.cfg.BrewSetpointC10,
		SteamSPC10:   c.cfg.SteamSetpointC10,
		BrewDuty:     c.brewDuty,
		SteamDuty:    c.steamDuty,
		PumpDuty:     c.pumpDuty,
		State:        state,
		Flags:        uint8(safetyOut.Flags),
		WaterLevel:   1,
		PowerW:       uint16(c.brewDuty) * 20,
		UptimeMS:     uint32(now.Sub(c.started).Milliseconds()),
	}
}

func (c *controller) buildPowerMeter(now time.Time) proto.PowerMeter {
	return proto.PowerMeter{
		PowerW:      uint16(c.brewDuty)*20 + uint16(c.steamDuty)*20,
		VoltageV10:  c.cfg.Env.NominalVoltage * 10,
		FreqHz100:   5000,
		PowerFactor: 95,
	}
}

// --- inbound byte routing ------------------------------------------------

// feedByte consumes one raw UART byte. While a bootloader session is
// active it owns the link exclusively, and bytes are routed to the chunk
// reader instead of the frame parser. MsgHandshake frames are
// special-cased to internal/diag before falling through to the dispatcher,
// since internal/dispatch's apply() has no case for the handshake type —
// it is a link-level concern, not a dispatched command.
func (c *controller) feedByte(now time.Time, b byte) {
	if c.bootSession != nil {
		c.feedBootloaderByte(now, b)
		return
	}

	ev := c.parser.Feed(b)
	c.handleParserEvent(now, ev)
}

func (c *controller) handleParserEvent(now time.Time, ev parser.Event) {
	switch ev.Kind {
	case parser.EventFrame:
		c.handleInboundFrame(now, ev.Frame, ev.Seq, ev.Payload)
	case parser.EventCrcError, parser.EventFramingError, parser.EventTimeout:
		c.l.Debug("inbound_link_error", "kind", int(ev.Kind))
	}
}

func (c *controller) handleInboundFrame(now time.Time, typ proto.MsgType, seq uint8, payload []byte) {
	if typ == proto.MsgHandshake {
		peer, err := proto.UnmarshalHandshake(payload)
		if err != nil {
			return
		}
		if err := c.neg.Accept(peer); err != nil {
			c.l.Warn("handshake_incompatible", "error", err)
			return
		}
		c.sendFrame(proto.MsgHandshake, c.neg.Offer().Marshal())
		return
	}

	f := frame.Frame{Type: typ, Seq: seq, Payload: payload}
	for _, out := range c.dispatcher.HandleInbound(now, f) {
		c.sendFrame(out.Type, out.Payload)
	}
}

func (c *controller) feedBootloaderByte(now time.Time, b byte) {
	c.bootRxBuf = append(c.bootRxBuf, b)
	for {
		chunkBytes, consumed, ok := nextBootChunk(c.bootRxBuf)
		if consumed == 0 {
			return
		}
		if !ok {
			// Bad magic at the front: drop one byte and resync.
			c.bootRxBuf = c.bootRxBuf[consumed:]
			continue
		}
		c.bootRxBuf = c.bootRxBuf[consumed:]
		c.handleBootChunk(chunkBytes)
		return
	}
}

func (c *controller) handleBootChunk(chunkBytes []byte) {
	chunk, err := bootloader.ParseChunk(chunkBytes)
	if err != nil {
		c.abortBootloader(err)
		return
	}
	done, err := c.bootSession.Feed(chunk)
	if err != nil {
		c.abortBootloader(err)
		return
	}
	if !done {
		return
	}
	if !c.bootSession.VerifyCRC32(c.flash.imageCRC32()) {
		c.abortBootloader(errImageCRCMismatch)
		return
	}
	c.l.Info("bootloader_complete")
	c.bootSession = nil
	c.parser = parser.New(nil)
}

func (c *controller) abortBootloader(err error) {
	c.l.Error("bootloader_aborted", "error", err)
	c.port.Write([]byte{0xFF, byte(bootloader.Code(err))})
	c.bootSession = nil
	c.bootRxBuf = nil
	c.parser = parser.New(nil)
}

// sendFrame encodes and writes one outbound frame, assigning the next
// sequence number single-threaded at send time.
func (c *controller) sendFrame(t proto.MsgType, payload []byte) {
	c.txSeq++
	if _, err := c.port.Write(frame.Encode(t, c.txSeq, payload)); err != nil {
		c.l.Error("uart_write_failed", "error", err)
	}
}

// step runs one 100ms tick: the scheduler's safety->watchdog->control->
// actuator->outbound ordering, then transmits whatever the dispatcher
// queued this tick.
func (c *controller) step(now time.Time) {
	result := c.scheduler.Step(now)
	for _, out := range result.Outbound {
		c.sendFrame(out.Type, out.Payload)
	}
}

// emitBootSequence sends BOOT, then CONFIG, then ENV_CONFIG, the fixed
// order every peer expects on link-up.
func (c *controller) emitBootSequence(now time.Time) {
	c.sendFrame(proto.MsgBoot, proto.Boot{
		FWMajor:     1,
		FWMinor:     0,
		FWPatch:     0,
		MachineType: c.machineType,
		PCBType:     1,
		PCBMajor:    1,
		PCBMinor:    0,
		ResetReason: 0,
	}.Marshal())
	c.sendFrame(proto.MsgConfig, c.cfg.ToWire(c.machineType).Marshal())
	c.sendFrame(proto.MsgEnvConfig, c.cfg.ToEnvWire(c.derivedA()).Marshal())
}
