// services/cird/cird.go

// Package cird puts CIR receivers on the bus. A retained config message
// brings units up, each unit's decoded pulse stream goes out as events,
// retained state mirrors the unit lifecycles and control verbs answer over
// reply topics.
//
// Topics, with <unit> an integer token:
//
//	config/cir                  daemon configuration (retained)
//	cir/state                   daemon state (retained)
//	cir/<unit>/state            unit lifecycle state (retained)
//	cir/<unit>/event            pulse, idle and reset events
//	cir/<unit>/control/<verb>   stats, stop, restart; replies on ReplyTo
package cird

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/bus"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/errcode"
	"github.com/tnmeyer/sunxi-cir/services/cird/config"
	"github.com/tnmeyer/sunxi-cir/types"
)

// Factory builds the platform backend for one configured receiver.
type Factory func(r config.Receiver) (sunxicir.Platform, error)

// unit is one live (or failed) receiver. A failed unit keeps its config and
// controller around so state and stats stay answerable and restart can
// rebuild it; its sink is nil once closed.
type unit struct {
	idx  int
	rc   config.Receiver
	ctrl *sunxicir.Controller
	sink *sunxicir.ChanSink
	done chan struct{} // closed when the pump goroutine has drained out
}

type unitEvent struct {
	idx int
	ev  sunxicir.Event
}

type service struct {
	conn    *bus.Connection
	factory Factory
	units   map[int]*unit
	events  chan unitEvent // fan-in from all unit pumps
}

// Run drives the receiver daemon until ctx is cancelled. Units come up from
// config messages rather than at startup, so cird can be supervised before
// the board description is known.
func Run(ctx context.Context, conn *bus.Connection, factory Factory) {
	s := &service{
		conn:    conn,
		factory: factory,
		units:   make(map[int]*unit),
		events:  make(chan unitEvent, 64),
	}
	s.loop(ctx)
}

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "cir"))
	ctrlSub := s.conn.Subscribe(bus.T("cir", "+", "control", "+"))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishDaemonState("waiting")

	for {
		select {
		case <-ctx.Done():
			s.teardownAll()
			s.publishDaemonState("stopped")
			return

		case msg := <-cfgSub.Channel():
			if msg.Payload == nil {
				// Retained config cleared; running units stay up.
				continue
			}
			cfg, err := config.Decode(msg.Payload)
			if err != nil {
				glog.Errorf("cird: undecodable config: %v", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				glog.Errorf("cird: config rejected: %v", err)
				continue
			}
			s.applyConfig(cfg)
			s.publishDaemonState("configured")

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case ue := <-s.events:
			s.publishEvent(ue)
		}
	}
}

// applyConfig reconciles the unit table against cfg: units that fell out of
// the config or changed shape are torn down, missing ones are built. A
// failed unit whose entry is unchanged is rebuilt, so republishing the
// config doubles as a retry.
func (s *service) applyConfig(cfg config.Config) {
	want := make(map[int]config.Receiver, len(cfg.Receivers))
	for _, rc := range cfg.Receivers {
		want[rc.Unit] = rc
	}

	for idx, u := range s.units {
		rc, keep := want[idx]
		if keep && u.rc.Equal(rc) && u.ctrl.State() != sunxicir.StateFailed {
			continue
		}
		s.teardownUnit(u)
		delete(s.units, idx)
		if !keep {
			s.pubRet(bus.T("cir", idx, "state"), nil)
		}
	}

	for _, rc := range cfg.Receivers {
		if _, ok := s.units[rc.Unit]; ok {
			continue
		}
		s.buildUnit(rc)
	}
}

// buildUnit wires platform, sink and controller together and starts the
// event pump. Failures leave a failed unit in the table with its error in
// the retained state, except when no controller could be made at all.
func (s *service) buildUnit(rc config.Receiver) error {
	fail := func(err error) {
		glog.Errorf("cird: unit %d: %v", rc.Unit, err)
		s.pubRet(bus.T("cir", rc.Unit, "state"),
			types.CIRState{State: "failed", Error: string(errcode.Of(err)), TS: now()})
	}

	p, err := s.factory(rc)
	if err != nil {
		fail(err)
		return err
	}
	sink := sunxicir.NewChanSink(rc.SinkBuffer)
	ctrl, err := sunxicir.NewController(p, sink, rc.DriverConfig())
	if err != nil {
		sink.Close()
		fail(err)
		return err
	}

	u := &unit{idx: rc.Unit, rc: rc, ctrl: ctrl, sink: sink, done: make(chan struct{})}
	abort := func(err error) error {
		ctrl.Stop()
		sink.Close()
		u.sink = nil
		close(u.done)
		s.units[rc.Unit] = u
		s.publishUnitState(u, err)
		glog.Errorf("cird: unit %d: %v", rc.Unit, err)
		return err
	}
	if err := ctrl.Attach(); err != nil {
		return abort(err)
	}
	if err := ctrl.Start(); err != nil {
		return abort(err)
	}

	s.units[rc.Unit] = u
	go s.pump(u)
	s.publishUnitState(u, nil)
	glog.Infof("cird: unit %d running, resolution %s", rc.Unit, ctrl.SampleResolution())
	return nil
}

// pump forwards one sink's events into the service loop. It exits when the
// sink is closed after Controller.Stop.
func (s *service) pump(u *unit) {
	defer close(u.done)
	for ev := range u.sink.Events() {
		s.events <- unitEvent{idx: u.idx, ev: ev}
	}
}

// teardownUnit stops a unit and waits out its pump, draining the fan-in
// channel meanwhile so no pump can be stuck sending into it.
func (s *service) teardownUnit(u *unit) {
	u.ctrl.Stop()
	if u.sink != nil {
		u.sink.Close()
	}
	for {
		select {
		case ue := <-s.events:
			s.publishEvent(ue)
		case <-u.done:
			return
		}
	}
}

func (s *service) teardownAll() {
	for idx, u := range s.units {
		s.teardownUnit(u)
		delete(s.units, idx)
		s.publishUnitState(u, nil)
	}
}

func (s *service) handleControl(msg *bus.Message) {
	if len(msg.Topic) != 4 {
		return
	}
	nak := func(reason string) {
		s.conn.Reply(msg, types.ControlResult{Error: reason}, false)
	}
	idx, ok := msg.Topic[1].Int()
	if !ok {
		nak("bad_unit")
		return
	}
	verb, _ := msg.Topic[3].Str()
	u := s.units[idx]
	if u == nil {
		nak("unknown_unit")
		return
	}

	switch verb {
	case "stats":
		s.conn.Reply(msg, s.statsOf(u), false)
	case "stop":
		s.teardownUnit(u)
		delete(s.units, idx)
		s.publishUnitState(u, nil)
		s.conn.Reply(msg, types.ControlResult{OK: true}, false)
	case "restart":
		s.teardownUnit(u)
		delete(s.units, idx)
		if err := s.buildUnit(u.rc); err != nil {
			nak(string(errcode.Of(err)))
			return
		}
		s.conn.Reply(msg, types.ControlResult{OK: true}, false)
	default:
		nak("unknown_verb")
	}
}

func (s *service) statsOf(u *unit) types.CIRStats {
	st := u.ctrl.Stats()
	out := types.CIRStats{
		Interrupts: st.Interrupts,
		Samples:    st.Samples,
		PacketEnds: st.PacketEnds,
		Overflows:  st.Overflows,
		TS:         now(),
	}
	if u.sink != nil {
		out.SinkDrops = u.sink.Drops()
	}
	return out
}

func (s *service) publishEvent(ue unitEvent) {
	out := types.CIREvent{Kind: ue.ev.Kind.String(), TS: now()}
	if ue.ev.Kind == sunxicir.EventPulse {
		out.Mark = ue.ev.Pulse.Mark
		out.DurationNs = int64(ue.ev.Pulse.Duration)
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("cir", ue.idx, "event"), out, false))
}

func (s *service) publishUnitState(u *unit, err error) {
	st := types.CIRState{
		State:         u.ctrl.State().String(),
		ResolutionNs:  int64(u.ctrl.SampleResolution()),
		IdleTimeoutNs: int64(u.ctrl.Config().IdleTimeout()),
		TS:            now(),
	}
	if err != nil {
		st.Error = string(errcode.Of(err))
	}
	s.pubRet(bus.T("cir", u.idx, "state"), st)
}

func (s *service) publishDaemonState(status string) {
	s.pubRet(bus.T("cir", "state"), map[string]any{
		"service": sunxicir.Name,
		"version": sunxicir.Version,
		"status":  status,
		"units":   len(s.units),
		"ts_ns":   now(),
	})
}

func (s *service) pubRet(topic bus.Topic, payload any) {
	s.conn.Publish(s.conn.NewMessage(topic, payload, true))
}

func now() int64 { return time.Now().UnixNano() }
