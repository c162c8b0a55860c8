// Package sunxicir drives the consumer-IR receive block of Allwinner A1X
// SoCs: the raw sampler that turns a demodulated IR input into a stream of
// timed mark/space runs.
//
// Design notes (register-level behaviour):
// • The input is level-sampled at clock/divider (8 MHz / 64 by default, one
//   tick = 8 µs); each FIFO byte is one run, bit 7 the line level and bits
//   0..6 the length in ticks.
// • A 16-sample FIFO raises the available interrupt at the half-full mark;
//   packet end fires once the line idles past the idle threshold; overflow
//   latches when the FIFO overruns and the stream must restart.
// • Interrupt status is write-one-to-clear in its low byte, while bits
//   8..15 read back the buffered sample count.
// • Bring-up programs the block in a fixed order (mode, sampling, polarity,
//   status clear, enables, module enable); teardown reverses it.
//
// Clocks, the input pin, the register window and the interrupt line are
// reached through the Platform interface, so the same core runs against
// /dev/mem on a board or against the cirsim model in tests.
package sunxicir

import (
	"time"

	"github.com/tnmeyer/sunxi-cir/errcode"
)

// Name and Version identify the receiver core in logs and bus payloads.
const (
	Name    = "sunxi-cir"
	Version = "1.1"
)

// ---------------- Types and configuration ----------------

// Config carries everything board-specific: where the block lives, which
// resources it needs and how the sampler is programmed. Zero fields take
// the reference values of DefaultConfig, except IRQ and InvertInput whose
// zero values are meaningful (line 0, no inversion).
type Config struct {
	Base uint32 // physical base of the register window
	IRQ  int    // interrupt line of the block

	PinSection string // pin table section of the receiver input
	PinName    string // pin entry within the section
	BusClock   string // register interface gating clock
	ModClock   string // sampling clock, programmed to ClockHz

	ClockHz     uint32 // module clock rate
	ClockSel    uint8  // divider select, divider = 64 << ClockSel
	FilterTicks uint8  // noise filter threshold, in sample ticks
	IdleTicks   uint8  // packet-end threshold, in 128-tick units
	InvertInput bool   // demodulator polarity inversion
}

// DefaultConfig is the A1X reference setup: 8 MHz clock divided by 64 for
// 8 µs ticks, a one-tick noise filter (RC5's minimum pulse), an idle
// threshold just past 30 ms (JVC's packet period) and inverted input.
func DefaultConfig() Config {
	return Config{
		Base:        0x01c21800,
		IRQ:         5,
		PinSection:  "ir_para",
		PinName:     "ir0_rx",
		BusClock:    "apb_ir0",
		ModClock:    "ir0",
		ClockHz:     8000000,
		ClockSel:    0,
		FilterTicks: 1,
		IdleTicks:   29,
		InvertInput: true,
	}
}

// WithDefaults returns a copy with zero-valued fields replaced by the
// reference defaults. IRQ and InvertInput are left alone; zero means
// line 0 and no inversion, not unset.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Base == 0 {
		c.Base = def.Base
	}
	if c.PinSection == "" {
		c.PinSection = def.PinSection
	}
	if c.PinName == "" {
		c.PinName = def.PinName
	}
	if c.BusClock == "" {
		c.BusClock = def.BusClock
	}
	if c.ModClock == "" {
		c.ModClock = def.ModClock
	}
	if c.ClockHz == 0 {
		c.ClockHz = def.ClockHz
	}
	if c.FilterTicks == 0 {
		c.FilterTicks = def.FilterTicks
	}
	if c.IdleTicks == 0 {
		c.IdleTicks = def.IdleTicks
	}
	return c
}

// Validate rejects configurations the hardware cannot hold.
func (c Config) Validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidConfig, Op: "cir.config", Msg: msg}
	}
	if c.Base == 0 {
		return bad("register base required")
	}
	if c.IRQ < 0 {
		return bad("interrupt line required")
	}
	if c.ClockSel > 3 {
		return bad("divider select out of range")
	}
	if c.FilterTicks > uint8(sampleFilterMask) {
		return bad("filter threshold out of range")
	}
	if c.ClockHz == 0 || c.ClockHz < c.divider() {
		return bad("clock rate below sample divider")
	}
	return nil
}

func (c Config) divider() uint32 { return 64 << c.ClockSel }

// SamplePeriod is the duration of one sample tick: the module clock
// divided down by 64 << ClockSel. 8 MHz with select 0 gives 8 µs.
func (c Config) SamplePeriod() time.Duration {
	hz := c.ClockHz / c.divider()
	if hz == 0 {
		return 0
	}
	return time.Duration(uint64(1e9) / uint64(hz))
}

// IdleTimeout is the packet-end threshold as a duration: the line must
// stay idle for (IdleTicks+1) * 128 sample ticks before packet end fires.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(uint64(c.IdleTicks)+1) * 128 * c.SamplePeriod()
}

// ---------------- Sample decoding ----------------

// PulseEvent is one demodulated run of the input line.
type PulseEvent struct {
	Mark     bool          // carrier present (mark) vs line idle (space)
	Duration time.Duration // run length, an exact multiple of the sample period
}

// DecodeSample expands one FIFO byte into a PulseEvent for the given
// sample period. Bit 7 carries the level, bits 0..6 the run length in
// ticks. Zero-length runs decode to zero-duration events and are passed
// on; filtering beyond the hardware's own is the consumer's business.
func DecodeSample(raw byte, period time.Duration) PulseEvent {
	return PulseEvent{
		Mark:     raw&sampleLevelMask != 0,
		Duration: time.Duration(raw&samplePeriodMask) * period,
	}
}

// ---------------- Collaborator interfaces ----------------

// RegBlock is 32-bit access to the mapped register window. Every call must
// reach the device: no caching, no elision, no reordering.
type RegBlock interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Clock is one named clock handle. Handles are lookups, not claims; only
// Enable takes a reference the holder must give back with Disable.
type Clock interface {
	SetRate(hz uint32) error
	Rate() uint32
	Enable() error
	Disable()
}

// Platform supplies the board-level resources the receiver needs.
//
// RegisterIRQ dispatch is serial per line: the platform must not run the
// handler concurrently with itself, and the returned unregister function
// must not return while an invocation is still in flight. Release and
// unregister functions make the underlying resource claimable again.
type Platform interface {
	RequestPin(section, name string) (release func(), err error)
	ClockGet(name string) (Clock, error)
	MapRegisters(base, size uint32) (regs RegBlock, unmap func(), err error)
	RegisterIRQ(line int, fn func()) (unregister func(), err error)
}

// Sink consumes the decoded stream. Push receives runs in FIFO order;
// NotifyIdle marks a packet boundary; NotifyReset tells the consumer to
// discard any partial packet (attach and overflow recovery). Calls arrive
// from interrupt dispatch and must not block.
type Sink interface {
	Push(ev PulseEvent)
	NotifyIdle()
	NotifyReset()
}
