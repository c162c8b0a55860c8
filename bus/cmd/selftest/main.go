// bus/cmd/selftest/main.go

// Command selftest exercises the bus end to end in one process: delivery,
// retained replay, wildcard matching, queue overflow and request/reply.
// One line per check, non-zero exit on failure.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tnmeyer/sunxi-cir/bus"
)

func recv(sub *bus.Subscription) (*bus.Message, error) {
	select {
	case m := <-sub.Channel():
		return m, nil
	case <-time.After(500 * time.Millisecond):
		return nil, fmt.Errorf("timeout on %s", sub.Topic())
	}
}

func quiet(sub *bus.Subscription) error {
	select {
	case m := <-sub.Channel():
		return fmt.Errorf("unexpected %v on %s", m.Payload, sub.Topic())
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func wantPayload(sub *bus.Subscription, want string) error {
	m, err := recv(sub)
	if err != nil {
		return err
	}
	if s, ok := m.Payload.(string); !ok || s != want {
		return fmt.Errorf("payload %v, want %q", m.Payload, want)
	}
	return nil
}

func checkPubSub() error {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	hit := c.Subscribe(bus.T("cir", 0, "event"))
	miss := c.Subscribe(bus.T("cir", 1, "event"))
	c.Publish(b.NewMessage(bus.T("cir", 0, "event"), "m", false))
	if err := wantPayload(hit, "m"); err != nil {
		return err
	}
	return quiet(miss)
}

func checkRetained() error {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	c.Publish(b.NewMessage(bus.T("cir", 0, "state"), "up", true))
	sub := c.Subscribe(bus.T("cir", 0, "state"))
	if err := wantPayload(sub, "up"); err != nil {
		return err
	}

	// Clearing is itself delivered, and leaves nothing for late subscribers.
	c.Publish(b.NewMessage(bus.T("cir", 0, "state"), nil, true))
	if m, err := recv(sub); err != nil {
		return err
	} else if m.Payload != nil {
		return fmt.Errorf("clear carried payload %v", m.Payload)
	}
	return quiet(c.Subscribe(bus.T("cir", 0, "state")))
}

func checkWildcards() error {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	plus := c.Subscribe(bus.T("cir", "+", "event"))
	hash := c.Subscribe(bus.T("cir", "#"))

	c.Publish(b.NewMessage(bus.T("cir", 3, "event"), "w", false))
	if err := wantPayload(plus, "w"); err != nil {
		return err
	}
	if err := wantPayload(hash, "w"); err != nil {
		return err
	}

	c.Publish(b.NewMessage(bus.T("cir", "state"), "s", false))
	if err := wantPayload(hash, "s"); err != nil {
		return err
	}
	return quiet(plus)
}

func checkRetainedReplayViaWildcard() error {
	b := bus.NewBus(8)
	c := b.NewConnection("selftest")
	c.Publish(b.NewMessage(bus.T("cir", 0, "state"), "r0", true))
	c.Publish(b.NewMessage(bus.T("cir", 1, "state"), "r1", true))

	sub := c.Subscribe(bus.T("cir", "+", "state"))
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		m, err := recv(sub)
		if err != nil {
			return err
		}
		got[m.Payload.(string)] = true
	}
	if !got["r0"] || !got["r1"] {
		return fmt.Errorf("replayed %v", got)
	}
	return nil
}

func checkDropOldest() error {
	b := bus.NewBus(2)
	c := b.NewConnection("selftest")
	sub := c.Subscribe(bus.T("cir", 0, "event"))
	for i := 1; i <= 3; i++ {
		c.Publish(b.NewMessage(bus.T("cir", 0, "event"), fmt.Sprintf("m%d", i), false))
	}
	if err := wantPayload(sub, "m2"); err != nil {
		return err
	}
	return wantPayload(sub, "m3")
}

func checkRequestReply() error {
	b := bus.NewBus(4)
	asker := b.NewConnection("asker")
	oracle := b.NewConnection("oracle")
	reqSub := oracle.Subscribe(bus.T("cir", 0, "control", "stats"))
	go func() {
		if m, ok := <-reqSub.Channel(); ok {
			oracle.Reply(m, "answer", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	reply, err := asker.RequestWait(ctx, b.NewMessage(bus.T("cir", 0, "control", "stats"), nil, false))
	if err != nil {
		return err
	}
	if reply.Payload.(string) != "answer" {
		return fmt.Errorf("reply %v", reply.Payload)
	}
	return nil
}

func checkTokenKinds() error {
	b := bus.NewBus(4)
	c := b.NewConnection("selftest")
	intSub := c.Subscribe(bus.T("cir", 0))
	c.Publish(b.NewMessage(bus.T("cir", "0"), "str", false))
	return quiet(intSub)
}

func main() {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"pubsub", checkPubSub},
		{"retained", checkRetained},
		{"wildcards", checkWildcards},
		{"retained replay via wildcard", checkRetainedReplayViaWildcard},
		{"drop oldest", checkDropOldest},
		{"request reply", checkRequestReply},
		{"token kinds", checkTokenKinds},
	}

	failed := 0
	for _, c := range checks {
		if err := c.fn(); err != nil {
			fmt.Printf("FAIL %-30s %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s\n", c.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
