// Package cirsim models the sunxi CIR receive block at register level: the
// 16-sample FIFO, write-one-to-clear cause bits with the live sample count
// above them, the FIFO threshold and packet-end interrupts and the
// overflow latch.
//
// The package is the device side of the wire. Producers feed demodulated
// samples the way the sampler would, and a registered interrupt handler
// runs synchronously on the producing goroutine, which keeps test ordering
// deterministic.
package cirsim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
)

// Register offsets and bits, from the device's point of view.
const (
	RegControl      uint32 = 0x00
	RegRxConfig     uint32 = 0x10
	RegRxData       uint32 = 0x20
	RegRxIntEnable  uint32 = 0x2c
	RegRxIntStatus  uint32 = 0x30
	RegSampleConfig uint32 = 0x34
)

const (
	CtrlGlobalEnable uint32 = 0x1 << 0
	CtrlRxEnable     uint32 = 0x1 << 1
	CtrlModeCIR      uint32 = 0x3 << 4

	EnablePacketEnd     uint32 = 0x1 << 0
	EnableIllegalSymbol uint32 = 0x1 << 1
	EnableFIFOAvailable uint32 = 0x1 << 4

	StatusOverflow  uint32 = 0x1 << 0
	StatusPacketEnd uint32 = 0x1 << 1
	StatusDataReady uint32 = 0x1 << 4
)

// FIFODepth is the modelled FIFO size in samples.
const FIFODepth = 16

// WriteOp is one journal entry of a register write, in program order.
type WriteOp struct {
	Off uint32
	Val uint32
}

// ---------------- Device ----------------

// Device is the simulated register block. Packet-end and overflow causes
// latch until written clear; data ready follows the FIFO level against the
// programmed threshold.
type Device struct {
	mu     sync.Mutex
	ctrl   uint32
	rxcfg  uint32
	splcfg uint32
	inte   uint32
	causes uint32 // pending cause bits, low status byte
	fifo   []byte

	handler  func()
	held     bool
	inflight sync.WaitGroup

	journal []WriteOp
}

func NewDevice() *Device {
	return &Device{}
}

// Read32 returns register contents. Reading the data register pops one
// FIFO sample (zero when empty); the status read composes the cause bits
// with the live sample count in bits 8..15.
func (d *Device) Read32(off uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case RegControl:
		return d.ctrl
	case RegRxConfig:
		return d.rxcfg
	case RegSampleConfig:
		return d.splcfg
	case RegRxIntEnable:
		return d.inte
	case RegRxIntStatus:
		return d.causes | uint32(len(d.fifo))<<8
	case RegRxData:
		if len(d.fifo) == 0 {
			return 0
		}
		b := d.fifo[0]
		d.fifo = d.fifo[1:]
		if len(d.fifo) < d.threshold() {
			d.causes &^= StatusDataReady
		}
		return uint32(b)
	}
	return 0
}

// Write32 stores register contents and journals the write. Ones written to
// the low status byte clear those causes; the count field ignores writes,
// and a still-above-threshold FIFO re-latches data ready immediately.
func (d *Device) Write32(off uint32, v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal = append(d.journal, WriteOp{Off: off, Val: v})
	switch off {
	case RegControl:
		d.ctrl = v
	case RegRxConfig:
		d.rxcfg = v
	case RegSampleConfig:
		d.splcfg = v
	case RegRxIntEnable:
		d.inte = v
	case RegRxIntStatus:
		d.causes &^= v & 0xff
		if len(d.fifo) >= d.threshold() {
			d.causes |= StatusDataReady
		}
	}
}

// threshold is the programmed FIFO-available level plus one, in samples.
// Callers hold d.mu.
func (d *Device) threshold() int {
	return int((d.inte>>8)&0xff) + 1
}

// enabledCauses maps enable bits to the causes they unmask. The pairing is
// cross-wired the same way the silicon's is: the two low enable bits gate
// packet-end and overflow delivery, bit 4 gates the FIFO threshold.
func enabledCauses(inte uint32) uint32 {
	var m uint32
	if inte&(EnablePacketEnd|EnableIllegalSymbol) != 0 {
		m |= StatusPacketEnd | StatusOverflow
	}
	if inte&EnableFIFOAvailable != 0 {
		m |= StatusDataReady
	}
	return m
}

func (d *Device) receiverOn() bool {
	return d.ctrl&CtrlGlobalEnable != 0 && d.ctrl&CtrlRxEnable != 0
}

// dispatch fires the handler when an enabled cause is pending. Callers
// hold d.mu; the handler itself runs unlocked so it can touch registers.
func (d *Device) dispatch() {
	if d.handler == nil || d.held || d.causes&enabledCauses(d.inte) == 0 {
		return
	}
	h := d.handler
	d.inflight.Add(1)
	d.mu.Unlock()
	h()
	d.inflight.Done()
	d.mu.Lock()
}

// PushSample feeds one demodulated FIFO byte, as the sampler would after a
// run of the input line. Samples are ignored while the receiver is not
// enabled. A full FIFO loses the byte and latches the overflow cause.
func (d *Device) PushSample(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.receiverOn() {
		return
	}
	if len(d.fifo) >= FIFODepth {
		d.causes |= StatusOverflow
	} else {
		d.fifo = append(d.fifo, b)
		if len(d.fifo) >= d.threshold() {
			d.causes |= StatusDataReady
		}
	}
	d.dispatch()
}

// PushSamples feeds a burst in order, dispatching as the hardware would.
func (d *Device) PushSamples(bs ...byte) {
	for _, b := range bs {
		d.PushSample(b)
	}
}

// SignalPacketEnd latches the packet-end cause, as the sampler would once
// the line sat idle past the idle threshold.
func (d *Device) SignalPacketEnd() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.receiverOn() {
		return
	}
	d.causes |= StatusPacketEnd
	d.dispatch()
}

// HoldIRQ postpones dispatch, modelling interrupt latency: producer
// actions keep latching causes but the handler does not run.
func (d *Device) HoldIRQ() {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
}

// ReleaseIRQ ends a hold and delivers any pending enabled cause in one
// invocation, the way a slow CPU would catch up.
func (d *Device) ReleaseIRQ() {
	d.mu.Lock()
	d.held = false
	d.dispatch()
	d.mu.Unlock()
}

// SetHandler attaches the interrupt handler, or detaches it when fn is
// nil. Detaching waits out an in-flight invocation, matching the driver's
// unregister contract.
func (d *Device) SetHandler(fn func()) {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
	if fn == nil {
		d.inflight.Wait()
	}
}

// Writes returns a copy of the write journal.
func (d *Device) Writes() []WriteOp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]WriteOp(nil), d.journal...)
}

// ResetJournal clears the write journal.
func (d *Device) ResetJournal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal = nil
}

// FIFOLen reports the buffered sample count.
func (d *Device) FIFOLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fifo)
}

// ---------------- Platform ----------------

// FakeClock is a programmable clock handle. Enabled counts enables minus
// disables, so tests can assert acquisition and release balance out.
type FakeClock struct {
	Name        string
	RateHz      uint32
	Enabled     int
	FailSetRate bool
	FailEnable  bool
}

func (c *FakeClock) SetRate(hz uint32) error {
	if c.FailSetRate {
		return fmt.Errorf("clock %s: rate refused", c.Name)
	}
	c.RateHz = hz
	return nil
}

func (c *FakeClock) Rate() uint32 { return c.RateHz }

func (c *FakeClock) Enable() error {
	if c.FailEnable {
		return fmt.Errorf("clock %s: enable refused", c.Name)
	}
	c.Enabled++
	return nil
}

func (c *FakeClock) Disable() { c.Enabled-- }

// Platform implements the driver's board interface against one simulated
// Device, with a pin claim table and per-name fake clocks. The Fail knobs
// make individual acquisition stages refuse, for bring-up failure tests.
type Platform struct {
	Dev *Device

	DenyPin   bool
	DenyClock string // clock name whose lookup refuses
	FailMap   bool
	FailIRQ   bool

	mu     sync.Mutex
	pins   map[string]bool
	clocks map[string]*FakeClock
	mapped bool
}

func NewPlatform() *Platform {
	return &Platform{
		Dev:    NewDevice(),
		pins:   make(map[string]bool),
		clocks: make(map[string]*FakeClock),
	}
}

func (p *Platform) RequestPin(section, name string) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := section + "/" + name
	if p.DenyPin {
		return nil, fmt.Errorf("pin %s: denied", key)
	}
	if p.pins[key] {
		return nil, fmt.Errorf("pin %s: already claimed", key)
	}
	p.pins[key] = true
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.pins, key)
	}, nil
}

// PinClaimed reports whether the pin is currently held.
func (p *Platform) PinClaimed(section, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins[section+"/"+name]
}

func (p *Platform) ClockGet(name string) (sunxicir.Clock, error) {
	if p.DenyClock == name {
		return nil, fmt.Errorf("clock %s: no such clock", name)
	}
	return p.Clock(name), nil
}

// Clock returns the fake behind a name, creating it on first use, so tests
// can set knobs and read enable counts.
func (p *Platform) Clock(name string) *FakeClock {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clocks[name]
	if !ok {
		c = &FakeClock{Name: name}
		p.clocks[name] = c
	}
	return c
}

func (p *Platform) MapRegisters(base, size uint32) (sunxicir.RegBlock, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailMap {
		return nil, nil, errors.New("map refused")
	}
	p.mapped = true
	return p.Dev, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.mapped = false
	}, nil
}

// Mapped reports whether the register window is currently mapped.
func (p *Platform) Mapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mapped
}

func (p *Platform) RegisterIRQ(line int, fn func()) (func(), error) {
	if p.FailIRQ {
		return nil, fmt.Errorf("irq %d: registration refused", line)
	}
	p.Dev.SetHandler(fn)
	return func() { p.Dev.SetHandler(nil) }, nil
}
