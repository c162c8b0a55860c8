package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tnmeyer/sunxi-cir/errcode"
)

func validConfig() Config {
	return Config{
		Receivers: []Receiver{
			{Unit: 0, Platform: PlatformSim},
		},
	}
}

func TestValidateAcceptsMinimalSim(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no receivers", func(c *Config) { c.Receivers = nil }, "no receivers"},
		{"negative unit", func(c *Config) { c.Receivers[0].Unit = -2 }, "unit must not be negative"},
		{"duplicate unit", func(c *Config) {
			c.Receivers = append(c.Receivers, Receiver{Unit: 0, Platform: PlatformSim})
		}, "duplicate unit 0"},
		{"unknown platform", func(c *Config) { c.Receivers[0].Platform = "rp2040" }, `unknown platform "rp2040"`},
		{"linux without uio", func(c *Config) {
			c.Receivers[0].Platform = PlatformLinux
			c.Receivers[0].Pin = "PB4"
		}, "needs uio_device"},
		{"linux without pin", func(c *Config) {
			c.Receivers[0].Platform = PlatformLinux
			c.Receivers[0].UIODevice = "/dev/uio0"
		}, "needs pin"},
		{"negative sink buffer", func(c *Config) { c.Receivers[0].SinkBuffer = -4 }, "sink_buffer"},
		{"bad divider select", func(c *Config) { c.Receivers[0].ClockSel = 7 }, "receiver 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("validation passed, want error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateWrapsDriverErrors(t *testing.T) {
	c := validConfig()
	c.Receivers[0].FilterTicks = 0x55
	err := c.Validate()
	if !errors.Is(err, errcode.InvalidConfig) {
		t.Fatalf("driver rejection not surfaced as invalid_config: %v", err)
	}
}

func TestDriverConfigMapping(t *testing.T) {
	inv := false
	r := Receiver{Unit: 1, Platform: PlatformLinux, Base: 0x01c21c00, IRQ: 6,
		UIODevice: "/dev/uio0", Pin: "PB4", ClockSel: 1, Invert: &inv}
	dc := r.DriverConfig()
	if dc.Base != 0x01c21c00 || dc.IRQ != 6 {
		t.Fatalf("base/irq not carried: %+v", dc)
	}
	if dc.PinName != "PB4" {
		t.Fatalf("pin name not carried: %q", dc.PinName)
	}
	if dc.InvertInput {
		t.Fatalf("explicit invert=false ignored")
	}
	if dc.ClockHz != 8000000 || dc.IdleTicks != 29 {
		t.Fatalf("defaults not applied: %+v", dc)
	}
	if got := dc.SamplePeriod(); got != 16*time.Microsecond {
		t.Fatalf("sample period = %s, want 16µs", got)
	}

	// Absent invert keeps the reference polarity.
	if !(Receiver{Unit: 0}).DriverConfig().InvertInput {
		t.Fatalf("default polarity should be inverted")
	}
}

func TestReceiverEqual(t *testing.T) {
	yes, no := true, false
	a := Receiver{Unit: 0, Platform: PlatformSim, ClockSel: 1}
	if !a.Equal(a) {
		t.Fatal("receiver not equal to itself")
	}
	b := a
	b.ClockSel = 2
	if a.Equal(b) {
		t.Fatal("differing clock_sel compared equal")
	}
	c := a
	c.Invert = &yes
	if !a.Equal(c) {
		t.Fatal("nil invert and explicit true should be the same polarity")
	}
	d := a
	d.Invert = &no
	if a.Equal(d) {
		t.Fatal("differing polarity compared equal")
	}
}

func TestDecodeFromSectionMap(t *testing.T) {
	// The shape a YAML section has after the file layer parsed it.
	section := map[string]any{
		"receivers": []any{
			map[string]any{
				"unit":       0,
				"platform":   "linux",
				"base":       0x01c21c00,
				"irq":        6,
				"uio_device": "/dev/uio0",
				"pin":        "PB4",
				"clock_sel":  1,
				"invert":     false,
			},
		},
	}
	c, err := Decode(section)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	r := c.Receivers[0]
	if r.Base != 0x01c21c00 || r.IRQ != 6 || r.ClockSel != 1 {
		t.Fatalf("fields not carried: %+v", r)
	}
	if r.Invert == nil || *r.Invert {
		t.Fatalf("invert: false not decoded")
	}
}

func TestDecodeFromJSONAndStruct(t *testing.T) {
	c, err := Decode([]byte(`{"receivers":[{"unit":2,"platform":"sim"}]}`))
	if err != nil || len(c.Receivers) != 1 || c.Receivers[0].Unit != 2 {
		t.Fatalf("decode bytes = %+v, %v", c, err)
	}

	c, err = Decode(`{"receivers":[{"unit":3,"platform":"sim"}]}`)
	if err != nil || c.Receivers[0].Unit != 3 {
		t.Fatalf("decode string = %+v, %v", c, err)
	}

	// In-process publishers hand over the struct itself.
	c, err = Decode(validConfig())
	if err != nil || len(c.Receivers) != 1 {
		t.Fatalf("decode struct = %+v, %v", c, err)
	}
	if c.Receivers[0].Invert != nil {
		t.Fatalf("absent invert should stay nil")
	}

	if _, err := Decode("{not json"); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}
