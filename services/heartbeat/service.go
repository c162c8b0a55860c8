// Package heartbeat publishes a retained liveness beat so supervisors can
// tell a wedged daemon from a quiet one.
package heartbeat

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/bus"
)

var (
	topicBeat   = bus.T("cir", "heartbeat")
	topicConfig = bus.T("config", "heartbeat")
)

type Service struct {
	Interval time.Duration // beat period, default one second
}

// Start launches the beat loop; it runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	go s.loop(ctx, conn)
	return nil
}

func (s *Service) loop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	start := time.Now()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			glog.V(1).Info("heartbeat: stopping")
			return
		case <-tick.C:
			seq++
			conn.Publish(conn.NewMessage(topicBeat, map[string]any{
				"seq":       seq,
				"uptime_ms": time.Since(start).Milliseconds(),
				"ts_ns":     time.Now().UnixNano(),
			}, true))
		case msg := <-cfgSub.Channel():
			m, ok := msg.Payload.(map[string]any)
			if !ok {
				continue
			}
			if ms := intervalMs(m); ms > 0 {
				tick.Reset(time.Duration(ms) * time.Millisecond)
				glog.Infof("heartbeat: interval set to %d ms", ms)
			}
		}
	}
}

// intervalMs reads the configured period. YAML sections carry ints, JSON
// payloads float64s.
func intervalMs(m map[string]any) int {
	switch v := m["interval_ms"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
