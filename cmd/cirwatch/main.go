// cmd/cirwatch/main.go

// cirwatch drives one simulated receiver from the keyboard: inject frames,
// idle gaps and overflow bursts, watch the decoded event stream and pull
// counters over the control topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/golang/glog"
	tty "github.com/mattn/go-tty"

	"github.com/tnmeyer/sunxi-cir/bus"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir/cirsim"
	"github.com/tnmeyer/sunxi-cir/services/cird"
	"github.com/tnmeyer/sunxi-cir/services/cird/config"
	"github.com/tnmeyer/sunxi-cir/types"
)

// ---------- Topics ----------

func tConfig() bus.Topic { return bus.T("config", "cir") }
func tEvents() bus.Topic { return bus.T("cir", 0, "event") }
func tState() bus.Topic  { return bus.T("cir", 0, "state") }

func tControl(verb string) bus.Topic { return bus.T("cir", 0, "control", verb) }

// ---------- Sample synthesis ----------

const tick = 8 * time.Microsecond

// runs slices one run of the line into FIFO bytes, split at the 127-tick
// field limit.
func runs(mark bool, d time.Duration) []byte {
	ticks := int(d / tick)
	var out []byte
	for ticks > 0 {
		n := ticks
		if n > 127 {
			n = 127
		}
		b := byte(n)
		if mark {
			b |= 0x80
		}
		out = append(out, b)
		ticks -= n
	}
	return out
}

// necFrame synthesises an abbreviated NEC transmission: the 9 ms leader,
// the 4.5 ms gap and one byte, LSB first, closed by a stop mark.
func necFrame(cmd byte) []byte {
	var s []byte
	s = append(s, runs(true, 9*time.Millisecond)...)
	s = append(s, runs(false, 4500*time.Microsecond)...)
	for i := 0; i < 8; i++ {
		s = append(s, runs(true, 562*time.Microsecond)...)
		if cmd&(1<<i) != 0 {
			s = append(s, runs(false, 1687*time.Microsecond)...)
		} else {
			s = append(s, runs(false, 562*time.Microsecond)...)
		}
	}
	return append(s, runs(true, 562*time.Microsecond)...)
}

// ---------- Output ----------

func printEvents(sub *bus.Subscription) {
	for m := range sub.Channel() {
		ev, ok := m.Payload.(types.CIREvent)
		if !ok {
			continue
		}
		switch ev.Kind {
		case "pulse":
			name := "space"
			if ev.Mark {
				name = "mark"
			}
			fmt.Printf("  %-5s %10s\r\n", name, time.Duration(ev.DurationNs))
		default:
			fmt.Printf("  -- %s --\r\n", ev.Kind)
		}
	}
}

func help() {
	fmt.Printf("keys: f frame, i idle, o overflow burst, s stats, q quit\r\n")
}

// ---------- Main ----------

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(64)
	watch := b.NewConnection("cirwatch")

	var sim *cirsim.Platform
	factory := func(rc config.Receiver) (sunxicir.Platform, error) {
		sim = cirsim.NewPlatform()
		return sim, nil
	}
	go cird.Run(ctx, b.NewConnection("cird"), factory)

	evSub := watch.Subscribe(tEvents())
	stSub := watch.Subscribe(tState())

	watch.Publish(watch.NewMessage(tConfig(), config.Config{
		Receivers: []config.Receiver{{Unit: 0, Platform: config.PlatformSim}},
	}, true))

	select {
	case m := <-stSub.Channel():
		st, ok := m.Payload.(types.CIRState)
		if !ok || st.State != "running" {
			glog.Exitf("cirwatch: unit 0 state %+v", m.Payload)
		}
		fmt.Printf("unit 0 running, tick %s\r\n", time.Duration(st.ResolutionNs))
	case <-time.After(2 * time.Second):
		glog.Exit("cirwatch: unit 0 did not come up")
	}

	go printEvents(evSub)

	t, err := tty.Open()
	if err != nil {
		glog.Exitf("cirwatch: %v", err)
	}
	defer t.Close()

	help()
	for {
		r, err := t.ReadRune()
		if err != nil {
			return
		}
		switch r {
		case 'f':
			sim.Dev.PushSamples(necFrame(0xa5)...)
			sim.Dev.SignalPacketEnd()
		case 'i':
			sim.Dev.SignalPacketEnd()
		case 'o':
			// More than a FIFO's worth while delivery is held.
			sim.Dev.HoldIRQ()
			for i := 0; i < 20; i++ {
				sim.Dev.PushSample(0x81)
			}
			sim.Dev.ReleaseIRQ()
		case 's':
			wait, done := context.WithTimeout(ctx, time.Second)
			reply, err := watch.RequestWait(wait, b.NewMessage(tControl("stats"), nil, false))
			done()
			if err != nil {
				fmt.Printf("  no stats reply\r\n")
				continue
			}
			if st, ok := reply.Payload.(types.CIRStats); ok {
				fmt.Printf("  irqs %d samples %d packets %d overflows %d drops %d\r\n",
					st.Interrupts, st.Samples, st.PacketEnds, st.Overflows, st.SinkDrops)
			}
		case 'q':
			return
		}
	}
}
