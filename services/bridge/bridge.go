// services/bridge/bridge.go

// Package bridge streams receiver events to external clients. The retained
// "bridge" config section binds a listening socket, TCP or unix. Each client
// gets a hello line and then one JSON line per cir/<unit>/event message.
// A stalled client is cut by the per-write deadline rather than being
// allowed to push back on the bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/bus"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/types"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the export service until ctx is cancelled. It listens for the
// bridge section on topic config/bridge and (re)binds the socket on every
// config message.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the shape of the "bridge" section.
type Config struct {
	Transport TransportConfig `json:"transport"`
}

type TransportConfig struct {
	// "tcp" or "unix", or names added via RegisterTransport.
	Type string `json:"type"`
	// TCP address ("127.0.0.1:8650") or unix socket path.
	Listen string `json:"listen"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// writeTimeout bounds every line written to a client.
const writeTimeout = 5 * time.Second

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
}

// run waits for config and supervises a single listener instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", "", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg := <-cfgSub.Channel():
			if msg.Payload == nil {
				// Retained config cleared; the current listener stays up.
				continue
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", "", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runListener(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Listener supervision
// -----------------------------------------------------------------------------

func (s *Service) runListener(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", "", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ln, err := tr.Listen(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "listen_failed_retrying", "",
				fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "listening", ln.Addr().String(), nil)
		glog.Infof("bridge: %s listener on %s", tr, ln.Addr())
		err = s.serve(ctx, ln)
		ln.Close()
		if err == nil {
			// Cancelled; a new config starts a fresh listener.
			return
		}
		delay := backoff()
		s.publishState("degraded", "accept_failed_retrying", "",
			fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// serve accepts clients until ctx is cancelled or Accept fails. It does not
// return before the last client goroutine has exited.
func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	unblock := context.AfterFunc(ctx, func() { ln.Close() })
	defer unblock()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		glog.V(1).Infof("bridge: client %s connected", c.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveClient(ctx, c)
			glog.V(1).Infof("bridge: client %s gone", c.RemoteAddr())
		}()
	}
}

// helloLine opens every client stream. Clients can sync on it: events
// published after the hello was readable are guaranteed to be on the wire.
type helloLine struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Stream  string `json:"stream"`
}

// wireEvent is one exported line: the unit index plus the event fields.
type wireEvent struct {
	Unit int `json:"unit"`
	types.CIREvent
}

// serveClient copies the event stream to one client. The subscription comes
// first so nothing published after the hello line can be missed.
func (s *Service) serveClient(ctx context.Context, c net.Conn) {
	defer c.Close()
	unblock := context.AfterFunc(ctx, func() { c.Close() })
	defer unblock()

	sub := s.conn.Subscribe(bus.T("cir", "+", "event"))
	defer s.conn.Unsubscribe(sub)

	enc := json.NewEncoder(c)
	hello := helloLine{Service: sunxicir.Name, Version: sunxicir.Version, Stream: "cir-events"}
	if writeLine(c, enc, hello) != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sub.Channel():
			idx, ok := m.Topic[1].Int()
			if !ok {
				continue
			}
			ev, ok := m.Payload.(types.CIREvent)
			if !ok {
				continue
			}
			if err := writeLine(c, enc, wireEvent{Unit: idx, CIREvent: ev}); err != nil {
				return
			}
		}
	}
}

func writeLine(c net.Conn, enc *json.Encoder, v any) error {
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return enc.Encode(v)
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport binds the export socket.
type Transport interface {
	Listen(ctx context.Context) (net.Listener, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports (eg. "tls",
// "vsock").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "tcp", "unix":
		return newSocketTransport(cfg.Type, cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// socketTransport listens on a TCP address or a unix socket path.
type socketTransport struct {
	network string
	addr    string
}

func newSocketTransport(network string, cfg TransportConfig) (Transport, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("%s transport requires a listen address", network)
	}
	return &socketTransport{network: network, addr: cfg.Listen}, nil
}

func (t *socketTransport) Listen(ctx context.Context) (net.Listener, error) {
	if t.network == "unix" {
		// A previous run may have left the socket file behind.
		if err := os.Remove(t.addr); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, t.network, t.addr)
}

func (t *socketTransport) String() string { return t.network }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		return cfg, json.Unmarshal(v, &cfg)
	case string:
		return cfg, json.Unmarshal([]byte(v), &cfg)
	default:
		// Config sections arrive as parsed YAML mappings.
		b, err := json.Marshal(p)
		if err != nil {
			return cfg, err
		}
		return cfg, json.Unmarshal(b, &cfg)
	}
}

func (s *Service) publishState(level, status, addr string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ns":  time.Now().UnixNano(),
	}
	if addr != "" {
		payload["addr"] = addr
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
