package sunxicir

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/tnmeyer/sunxi-cir/errcode"
)

func TestDecodeSampleLaw(t *testing.T) {
	c := qt.New(t)
	const period = 8 * time.Microsecond
	// Bit 7 is the level, bits 0..6 the tick count, for every byte value.
	for raw := 0; raw < 256; raw++ {
		ev := DecodeSample(byte(raw), period)
		c.Assert(ev.Mark, qt.Equals, raw&0x80 != 0, qt.Commentf("raw %#02x", raw))
		c.Assert(ev.Duration, qt.Equals, time.Duration(raw&0x7f)*period, qt.Commentf("raw %#02x", raw))
	}
}

func TestDecodeSampleKnownValues(t *testing.T) {
	c := qt.New(t)
	const period = 8 * time.Microsecond
	cases := []struct {
		name string
		raw  byte
		want PulseEvent
	}{
		{"mark five ticks", 0x85, PulseEvent{Mark: true, Duration: 40 * time.Microsecond}},
		{"space two ticks", 0x02, PulseEvent{Mark: false, Duration: 16 * time.Microsecond}},
		{"zero length space", 0x00, PulseEvent{Mark: false, Duration: 0}},
		{"zero length mark", 0x80, PulseEvent{Mark: true, Duration: 0}},
		{"longest mark", 0xff, PulseEvent{Mark: true, Duration: 1016 * time.Microsecond}},
		{"longest space", 0x7f, PulseEvent{Mark: false, Duration: 1016 * time.Microsecond}},
	}
	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			c.Assert(DecodeSample(tc.raw, period), qt.Equals, tc.want)
		})
	}
}

func TestConfigSamplePeriod(t *testing.T) {
	c := qt.New(t)
	c.Run("reference", func(c *qt.C) {
		// 8 MHz / 64 = 125 kHz sampling, 8000 ns per tick.
		c.Assert(DefaultConfig().SamplePeriod(), qt.Equals, 8000*time.Nanosecond)
	})
	c.Run("divider select scales", func(c *qt.C) {
		cfg := DefaultConfig()
		cfg.ClockSel = 1 // divider 128
		c.Assert(cfg.SamplePeriod(), qt.Equals, 16000*time.Nanosecond)
	})
	c.Run("idle timeout", func(c *qt.C) {
		// (29+1) idle units of 128 ticks at 8 µs each.
		c.Assert(DefaultConfig().IdleTimeout(), qt.Equals, 30720*time.Microsecond)
	})
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	c := qt.New(t)
	c.Run("zero fields take reference values", func(c *qt.C) {
		got := Config{}.WithDefaults()
		c.Assert(got, qt.Equals, Config{
			Base:        0x01c21800,
			IRQ:         0,
			PinSection:  "ir_para",
			PinName:     "ir0_rx",
			BusClock:    "apb_ir0",
			ModClock:    "ir0",
			ClockHz:     8000000,
			FilterTicks: 1,
			IdleTicks:   29,
		})
	})
	c.Run("explicit fields survive", func(c *qt.C) {
		got := Config{Base: 0x1000, ClockHz: 4000000, IdleTicks: 10}.WithDefaults()
		c.Assert(got.Base, qt.Equals, uint32(0x1000))
		c.Assert(got.ClockHz, qt.Equals, uint32(4000000))
		c.Assert(got.IdleTicks, qt.Equals, uint8(10))
	})
	c.Run("rejects bad values", func(c *qt.C) {
		cases := []Config{
			{IRQ: 5, ClockHz: 8000000},                         // missing base
			{Base: 0x1000, IRQ: -1, ClockHz: 8000000},          // negative irq
			{Base: 0x1000, ClockHz: 8000000, ClockSel: 4},      // divider select
			{Base: 0x1000, ClockHz: 8000000, FilterTicks: 64},  // filter field
			{Base: 0x1000, ClockHz: 32},                        // rate below divider
		}
		for i, cfg := range cases {
			c.Assert(cfg.Validate(), qt.ErrorIs, errcode.InvalidConfig, qt.Commentf("case %d", i))
		}
	})
	c.Run("reference config is valid", func(c *qt.C) {
		c.Assert(DefaultConfig().Validate(), qt.IsNil)
	})
}
