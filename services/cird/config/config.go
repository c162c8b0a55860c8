// Package config is the schema of the receiver daemon's "cir" section:
// which units to bring up, on which platform backend, and how their
// samplers are programmed. The file layer (services/config) delivers the
// section over the bus; this package gives it a type and checks it.
// Sampler values mirror sunxicir.Config; zero fields fall back to the
// reference defaults there.
package config

import (
	"encoding/json"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
)

// Platform backend selectors.
const (
	PlatformSim   = "sim"
	PlatformLinux = "linux"
)

type Config struct {
	Receivers []Receiver `yaml:"receivers" json:"receivers"`
}

type Receiver struct {
	Unit     int    `yaml:"unit" json:"unit"`
	Platform string `yaml:"platform" json:"platform"` // "sim" or "linux"

	Base      uint32 `yaml:"base" json:"base"`
	IRQ       int    `yaml:"irq" json:"irq"`
	UIODevice string `yaml:"uio_device" json:"uio_device,omitempty"` // linux interrupt source
	Pin       string `yaml:"pin" json:"pin,omitempty"`               // linux pin name

	ClockHz     uint32 `yaml:"clock_hz" json:"clock_hz"`
	ClockSel    uint8  `yaml:"clock_sel" json:"clock_sel"`
	FilterTicks uint8  `yaml:"filter_ticks" json:"filter_ticks"`
	IdleTicks   uint8  `yaml:"idle_ticks" json:"idle_ticks"`
	Invert      *bool  `yaml:"invert" json:"invert,omitempty"` // nil means inverted, the reference polarity

	SinkBuffer int `yaml:"sink_buffer" json:"sink_buffer"` // event stream depth, 0 for default
}

// Equal reports whether two receiver entries describe the same setup.
// Invert is compared by effective polarity, not pointer.
func (r Receiver) Equal(o Receiver) bool {
	ri, oi := true, true
	if r.Invert != nil {
		ri = *r.Invert
	}
	if o.Invert != nil {
		oi = *o.Invert
	}
	r.Invert, o.Invert = nil, nil
	return r == o && ri == oi
}

// DriverConfig maps a receiver entry onto the driver's configuration.
func (r Receiver) DriverConfig() sunxicir.Config {
	invert := true
	if r.Invert != nil {
		invert = *r.Invert
	}
	return sunxicir.Config{
		Base:        r.Base,
		IRQ:         r.IRQ,
		PinName:     r.Pin,
		ClockHz:     r.ClockHz,
		ClockSel:    r.ClockSel,
		FilterTicks: r.FilterTicks,
		IdleTicks:   r.IdleTicks,
		InvertInput: invert,
	}.WithDefaults()
}

// Decode coerces a bus payload into a Config. Raw bytes and strings are
// unmarshalled as JSON; anything else takes a round trip through JSON,
// which covers both the parsed YAML section and structs published by
// in-process tools. Validation is the caller's next step.
func Decode(payload any) (Config, error) {
	var c Config
	switch v := payload.(type) {
	case []byte:
		return c, json.Unmarshal(v, &c)
	case string:
		return c, json.Unmarshal([]byte(v), &c)
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return c, err
		}
		return c, json.Unmarshal(raw, &c)
	}
}
