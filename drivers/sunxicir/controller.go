package sunxicir

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/errcode"
)

// ---------------- Lifecycle controller ----------------

// State tracks the controller lifecycle.
type State uint8

const (
	StateUninit State = iota
	StateConfigured
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Stats is a snapshot of the receiver counters.
type Stats struct {
	Interrupts uint32
	Samples    uint32
	PacketEnds uint32
	Overflows  uint32
}

// Controller owns one CIR block: its board resources, register window,
// interrupt registration and the lifecycle
//
//	Uninit → Configured → Running → Stopped
//
// Failed is entered when bring-up dies partway; everything acquired up to
// the failing stage has been released again by then. Stopped and Failed
// are terminal: build a fresh Controller to try again.
type Controller struct {
	cfg      Config
	platform Platform
	sink     Sink
	period   time.Duration

	mu    sync.Mutex // lifecycle transitions and state
	state State

	irqMu sync.Mutex // interrupt-enable and status register access

	clocks *clockSet
	regs   RegBlock
	unmap  func()
	unhook func()

	interrupts, samples, packetEnds, overflows uint32 // atomic
}

// NewController validates cfg (zero fields take reference defaults) and
// binds the platform and sink. No hardware is touched until Attach.
func NewController(p Platform, sink Sink, cfg Config) (*Controller, error) {
	if p == nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "cir.new", Msg: "nil platform"}
	}
	if sink == nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "cir.new", Msg: "nil sink"}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		platform: p,
		sink:     sink,
		period:   cfg.SamplePeriod(),
		state:    StateUninit,
	}, nil
}

// Attach acquires the pin and clocks, maps the register window, registers
// the interrupt handler and resets the sink. On success the controller is
// Configured; on any failure the stages already done are undone in
// reverse and the controller is Failed, with the error naming the stage.
func (c *Controller) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninit {
		return errcode.Wrap(errcode.InvalidState, "cir.attach", fmt.Errorf("state %s", c.state))
	}

	clocks, err := acquireClocks(c.platform, c.cfg)
	if err != nil {
		c.state = StateFailed
		return err
	}

	regs, unmap, err := c.platform.MapRegisters(c.cfg.Base, regWindowSize)
	if err != nil {
		clocks.release()
		c.state = StateFailed
		return errcode.Wrap(errcode.MapFailed, "cir.attach", err)
	}

	unhook, err := c.platform.RegisterIRQ(c.cfg.IRQ, c.serviceInterrupt)
	if err != nil {
		unmap()
		clocks.release()
		c.state = StateFailed
		return errcode.Wrap(errcode.IRQRegisterFailed, "cir.attach", err)
	}

	c.clocks, c.regs, c.unmap, c.unhook = clocks, regs, unmap, unhook
	c.sink.NotifyReset()
	c.state = StateConfigured
	glog.V(1).Infof("cir: attached, base %#x irq %d", c.cfg.Base, c.cfg.IRQ)
	return nil
}

// Start programs the sampler and turns reception on. Valid exactly once,
// from Configured.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConfigured {
		return errcode.Wrap(errcode.InvalidState, "cir.start", fmt.Errorf("state %s", c.state))
	}

	writeSampler(c.regs, c.cfg)
	c.irqMu.Lock()
	armInterrupts(c.regs)
	c.irqMu.Unlock()
	enableModule(c.regs)

	c.state = StateRunning
	glog.V(1).Infof("cir: running, sample period %s", c.period)
	return nil
}

// Stop tears the receiver down: interrupts masked and status cleared, the
// block disabled, clocks and pin released, the interrupt unregistered
// (waiting out an in-flight invocation) and the window unmapped, in that
// order. Stop on an already-terminal controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateStopped, StateFailed:
		return nil
	case StateConfigured, StateRunning:
	default:
		return errcode.Wrap(errcode.InvalidState, "cir.stop", fmt.Errorf("state %s", c.state))
	}

	c.irqMu.Lock()
	disableModule(c.regs)
	c.irqMu.Unlock()

	c.clocks.release()
	c.unhook()
	c.unmap()

	// No dispatch can reach the handler past unhook; drop the references.
	c.clocks, c.regs, c.unmap, c.unhook = nil, nil, nil, nil
	c.sink = nil
	c.state = StateStopped
	glog.V(1).Info("cir: stopped")
	return nil
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the effective configuration, defaults applied.
func (c *Controller) Config() Config { return c.cfg }

// SampleResolution is the duration of one sample tick, the granularity of
// every PulseEvent this receiver emits.
func (c *Controller) SampleResolution() time.Duration { return c.period }

// Stats snapshots the receiver counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Interrupts: atomic.LoadUint32(&c.interrupts),
		Samples:    atomic.LoadUint32(&c.samples),
		PacketEnds: atomic.LoadUint32(&c.packetEnds),
		Overflows:  atomic.LoadUint32(&c.overflows),
	}
}
