package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/tnmeyer/sunxi-cir/bus"
)

func recvBeat(t *testing.T, sub *bus.Subscription) map[string]any {
	t.Helper()
	select {
	case m := <-sub.Channel():
		beat, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("beat payload has type %T", m.Payload)
		}
		if !m.Retained {
			t.Fatal("beat not retained")
		}
		return beat
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
		return nil
	}
}

func TestBeatsAreSequenced(t *testing.T) {
	b := bus.NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.NewConnection("test").Subscribe(bus.T("cir", "heartbeat"))
	if err := (&Service{Interval: 5 * time.Millisecond}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		t.Fatal(err)
	}

	first := recvBeat(t, sub)
	second := recvBeat(t, sub)
	if first["seq"].(uint64)+1 != second["seq"].(uint64) {
		t.Fatalf("beats out of sequence: %v then %v", first["seq"], second["seq"])
	}
	if second["uptime_ms"].(int64) < 0 {
		t.Fatalf("uptime went backwards: %v", second["uptime_ms"])
	}
}

func TestIntervalReconfigured(t *testing.T) {
	b := bus.NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("cir", "heartbeat"))
	if err := (&Service{Interval: time.Hour}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		t.Fatal(err)
	}

	// Nothing beats at an hour; shrinking the interval over the bus does.
	// Retained, so it reaches the loop regardless of startup order. The int
	// is what a YAML config section carries.
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"),
		map[string]any{"interval_ms": 5}, true))
	recvBeat(t, sub)
}
