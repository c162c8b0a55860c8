package sunxicir_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir/cirsim"
	"github.com/tnmeyer/sunxi-cir/errcode"
)

func newRig(t *testing.T) (*cirsim.Platform, *sunxicir.ChanSink, *sunxicir.Controller) {
	t.Helper()
	p := cirsim.NewPlatform()
	sink := sunxicir.NewChanSink(0)
	ctrl, err := sunxicir.NewController(p, sink, sunxicir.DefaultConfig())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return p, sink, ctrl
}

func recvEvent(t *testing.T, ch <-chan sunxicir.Event) sunxicir.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("no event within timeout")
		return sunxicir.Event{}
	}
}

func wantPulse(t *testing.T, ch <-chan sunxicir.Event, mark bool, d time.Duration) {
	t.Helper()
	ev := recvEvent(t, ch)
	if ev.Kind != sunxicir.EventPulse || ev.Pulse.Mark != mark || ev.Pulse.Duration != d {
		t.Fatalf("event = %v/%v, want pulse mark=%v dur=%v", ev.Kind, ev.Pulse, mark, d)
	}
}

func wantKind(t *testing.T, ch <-chan sunxicir.Event, k sunxicir.EventKind) {
	t.Helper()
	if ev := recvEvent(t, ch); ev.Kind != k {
		t.Fatalf("event kind = %v, want %v", ev.Kind, k)
	}
}

func TestControllerLifecycle(t *testing.T) {
	p, sink, ctrl := newRig(t)

	if err := ctrl.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got := ctrl.State(); got != sunxicir.StateConfigured {
		t.Fatalf("state = %v", got)
	}
	wantKind(t, sink.Events(), sunxicir.EventReset) // attach resets the stream

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := ctrl.State(); got != sunxicir.StateRunning {
		t.Fatalf("state = %v", got)
	}

	// A short frame: two runs, then the line goes idle.
	p.Dev.PushSamples(0x85, 0x02)
	p.Dev.SignalPacketEnd()

	wantPulse(t, sink.Events(), true, 40*time.Microsecond)
	wantPulse(t, sink.Events(), false, 16*time.Microsecond)
	wantKind(t, sink.Events(), sunxicir.EventIdle)

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := ctrl.State(); got != sunxicir.StateStopped {
		t.Fatalf("state = %v", got)
	}
	if p.PinClaimed("ir_para", "ir0_rx") {
		t.Fatalf("pin still claimed after stop")
	}
	if p.Mapped() {
		t.Fatalf("registers still mapped after stop")
	}
	for _, name := range []string{"apb_ir0", "ir0"} {
		if n := p.Clock(name).Enabled; n != 0 {
			t.Fatalf("clock %s enable count = %d after stop", name, n)
		}
	}

	// Stop again is a plain no-op.
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestControllerThresholdDrain(t *testing.T) {
	p, sink, ctrl := newRig(t)
	if err := ctrl.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	wantKind(t, sink.Events(), sunxicir.EventReset)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	// The eighth sample crosses the half-depth threshold and the whole
	// batch arrives in push order.
	burst := []byte{0x85, 0x02, 0x85, 0x02, 0x85, 0x02, 0x85, 0x04}
	p.Dev.PushSamples(burst...)

	for _, raw := range burst {
		want := sunxicir.DecodeSample(raw, ctrl.SampleResolution())
		wantPulse(t, sink.Events(), want.Mark, want.Duration)
	}

	stats := ctrl.Stats()
	if stats.Samples != 8 || stats.Interrupts == 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestControllerOverflowRecovery(t *testing.T) {
	p, sink, ctrl := newRig(t)
	if err := ctrl.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	wantKind(t, sink.Events(), sunxicir.EventReset)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	// Interrupt held off while 18 samples arrive: 16 fit, two are lost and
	// the overflow cause latches.
	p.Dev.HoldIRQ()
	for i := 0; i < 18; i++ {
		p.Dev.PushSample(0x81)
	}
	p.Dev.ReleaseIRQ()

	for i := 0; i < 16; i++ {
		wantPulse(t, sink.Events(), true, 8*time.Microsecond)
	}
	wantKind(t, sink.Events(), sunxicir.EventReset)

	// Reception keeps working with no reconfiguration.
	p.Dev.PushSamples(0x85, 0x02)
	p.Dev.SignalPacketEnd()
	wantPulse(t, sink.Events(), true, 40*time.Microsecond)
	wantPulse(t, sink.Events(), false, 16*time.Microsecond)
	wantKind(t, sink.Events(), sunxicir.EventIdle)

	if got := ctrl.Stats().Overflows; got != 1 {
		t.Fatalf("overflows = %d, want 1", got)
	}
}

func TestControllerConfiguredIgnoresInput(t *testing.T) {
	p, sink, ctrl := newRig(t)
	if err := ctrl.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	wantKind(t, sink.Events(), sunxicir.EventReset)

	// Attached but not started: the receiver is still disabled and the
	// sampler drops everything.
	p.Dev.PushSamples(0x85, 0x02, 0x85, 0x02, 0x85, 0x02, 0x85, 0x02)
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event before start: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	ctrl.Stop()
}

func TestControllerWrongStateCalls(t *testing.T) {
	_, _, ctrl := newRig(t)

	if err := ctrl.Start(); !errors.Is(err, errcode.InvalidState) {
		t.Fatalf("start before attach = %v", err)
	}
	if err := ctrl.Stop(); !errors.Is(err, errcode.InvalidState) {
		t.Fatalf("stop before attach = %v", err)
	}
	if err := ctrl.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := ctrl.Attach(); !errors.Is(err, errcode.InvalidState) {
		t.Fatalf("second attach = %v", err)
	}
	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.Start(); !errors.Is(err, errcode.InvalidState) {
		t.Fatalf("second start = %v", err)
	}
	ctrl.Stop()
}

func TestControllerAttachFailureUnwind(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*cirsim.Platform)
		kind  errcode.Code
	}{
		{"pin denied", func(p *cirsim.Platform) { p.DenyPin = true }, errcode.ResourceUnavailable},
		{"bus clock missing", func(p *cirsim.Platform) { p.DenyClock = "apb_ir0" }, errcode.ResourceUnavailable},
		{"module clock missing", func(p *cirsim.Platform) { p.DenyClock = "ir0" }, errcode.ResourceUnavailable},
		{"rate refused", func(p *cirsim.Platform) { p.Clock("ir0").FailSetRate = true }, errcode.ClockConfigFailed},
		{"enable refused", func(p *cirsim.Platform) { p.Clock("ir0").FailEnable = true }, errcode.ClockConfigFailed},
		{"map refused", func(p *cirsim.Platform) { p.FailMap = true }, errcode.MapFailed},
		{"irq refused", func(p *cirsim.Platform) { p.FailIRQ = true }, errcode.IRQRegisterFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, ctrl := newRig(t)
			tc.setup(p)

			err := ctrl.Attach()
			if !errors.Is(err, tc.kind) {
				t.Fatalf("attach error = %v, want kind %v", err, tc.kind)
			}
			if got := ctrl.State(); got != sunxicir.StateFailed {
				t.Fatalf("state = %v, want failed", got)
			}

			// Everything acquired before the failing stage is free again.
			if p.PinClaimed("ir_para", "ir0_rx") {
				t.Fatalf("pin leaked")
			}
			if p.Mapped() {
				t.Fatalf("mapping leaked")
			}
			for _, name := range []string{"apb_ir0", "ir0"} {
				if n := p.Clock(name).Enabled; n != 0 {
					t.Fatalf("clock %s enable count = %d", name, n)
				}
			}

			// Stop on a failed controller is a harmless no-op.
			if err := ctrl.Stop(); err != nil {
				t.Fatalf("stop after failure: %v", err)
			}
		})
	}
}

func TestControllerResolutionAndConfig(t *testing.T) {
	_, _, ctrl := newRig(t)
	if got := ctrl.SampleResolution(); got != 8000*time.Nanosecond {
		t.Fatalf("resolution = %v", got)
	}
	if got := ctrl.Config().IdleTimeout(); got != 30720*time.Microsecond {
		t.Fatalf("idle timeout = %v", got)
	}
}
