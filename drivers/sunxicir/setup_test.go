package sunxicir

import (
	"reflect"
	"testing"
)

type writeOp struct {
	off uint32
	val uint32
}

// regRec is a RegBlock that journals writes and serves reads from the last
// written values.
type regRec struct {
	writes []writeOp
	regs   map[uint32]uint32
}

func newRegRec() *regRec { return &regRec{regs: make(map[uint32]uint32)} }

func (r *regRec) Read32(off uint32) uint32 { return r.regs[off] }

func (r *regRec) Write32(off, v uint32) {
	r.writes = append(r.writes, writeOp{off, v})
	r.regs[off] = v
}

func TestBringUpWriteSequence(t *testing.T) {
	regs := newRegRec()
	cfg := DefaultConfig()

	writeSampler(regs, cfg)
	armInterrupts(regs)
	enableModule(regs)

	want := []writeOp{
		{regControl, 0x30},       // CIR mode
		{regSampleConfig, 0x1d04}, // sel 0, filter 1, idle 29
		{regRxConfig, 0x04},      // inverted input
		{regRxIntStatus, 0xff},   // clear all causes
		{regRxIntEnable, 0x713},  // enables + threshold 8
		{regControl, 0x33},       // mode survives the enable RMW
	}
	if !reflect.DeepEqual(regs.writes, want) {
		t.Fatalf("bring-up writes = %#v, want %#v", regs.writes, want)
	}
}

func TestBringUpWithoutInversion(t *testing.T) {
	regs := newRegRec()
	cfg := DefaultConfig()
	cfg.InvertInput = false

	writeSampler(regs, cfg)
	if got := regs.regs[regRxConfig]; got != 0 {
		t.Fatalf("rx config = %#x, want 0", got)
	}
}

func TestBringUpSampleFieldMasking(t *testing.T) {
	regs := newRegRec()
	cfg := DefaultConfig()
	cfg.ClockSel = 2
	cfg.FilterTicks = 0x3f
	cfg.IdleTicks = 0xff

	writeSampler(regs, cfg)
	if got, want := regs.regs[regSampleConfig], uint32(0x2|0x3f<<2|0xff<<8); got != want {
		t.Fatalf("sample config = %#x, want %#x", got, want)
	}
}

func TestDisableSequence(t *testing.T) {
	regs := newRegRec()
	disableModule(regs)

	want := []writeOp{
		{regRxIntEnable, 0},
		{regRxIntStatus, 0xff},
		{regControl, 0},
	}
	if !reflect.DeepEqual(regs.writes, want) {
		t.Fatalf("disable writes = %#v, want %#v", regs.writes, want)
	}
}
