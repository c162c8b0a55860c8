package sunxicir

import (
	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/errcode"
)

// ---------------- Clock and pin acquisition ----------------

// clockSet holds the receiver's board resources: the claimed input pin and
// the two clocks, gated on and rate-programmed.
type clockSet struct {
	releasePin func()
	busClk     Clock
	modClk     Clock
	rate       uint32 // achieved module rate
	released   bool
}

// acquireClocks claims the input pin, looks up the bus and module clocks,
// programs the module rate and gates bus then module clock on. Each stage
// fails on its own: pin and handle lookups as resource_unavailable, rate
// programming and gating as clock_config_failed. On failure everything
// acquired so far is undone in reverse order before returning.
func acquireClocks(p Platform, cfg Config) (*clockSet, error) {
	cs := &clockSet{}
	var undo []func()
	fail := func(c errcode.Code, op string, err error) (*clockSet, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, errcode.Wrap(c, op, err)
	}

	releasePin, err := p.RequestPin(cfg.PinSection, cfg.PinName)
	if err != nil {
		return fail(errcode.ResourceUnavailable, "cir: request rx pin", err)
	}
	cs.releasePin = releasePin
	undo = append(undo, releasePin)

	if cs.busClk, err = p.ClockGet(cfg.BusClock); err != nil {
		return fail(errcode.ResourceUnavailable, "cir: bus clock lookup", err)
	}
	if cs.modClk, err = p.ClockGet(cfg.ModClock); err != nil {
		return fail(errcode.ResourceUnavailable, "cir: module clock lookup", err)
	}

	if err = cs.modClk.SetRate(cfg.ClockHz); err != nil {
		return fail(errcode.ClockConfigFailed, "cir: set module clock rate", err)
	}
	cs.rate = cs.modClk.Rate()
	glog.Infof("cir: clock rate %d Hz, sample period %s", cs.rate, cfg.SamplePeriod())

	if err = cs.busClk.Enable(); err != nil {
		return fail(errcode.ClockConfigFailed, "cir: enable bus clock", err)
	}
	undo = append(undo, cs.busClk.Disable)

	if err = cs.modClk.Enable(); err != nil {
		return fail(errcode.ClockConfigFailed, "cir: enable module clock", err)
	}
	return cs, nil
}

// release gates the clocks off and frees the pin, exactly reversing
// acquisition. Further calls are no-ops.
func (cs *clockSet) release() {
	if cs.released {
		return
	}
	cs.released = true
	cs.modClk.Disable()
	cs.busClk.Disable()
	cs.releasePin()
}
