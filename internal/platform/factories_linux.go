// internal/platform/factories_linux.go
//go:build linux

package platform

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/pmem"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/services/cird/config"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// linuxPlatform reaches the block the way userspace can: the input pin via
// the gpio registry, registers via /dev/mem, the interrupt via a UIO device
// (uio_pdrv_genirq bound to the CIR node). The kernel owns pinmux and the
// clock tree, so the pin claim is in-process bookkeeping and the clock
// handles verify rather than program.
type linuxPlatform struct {
	uioPath string

	mu   sync.Mutex
	pins map[string]gpio.PinIO
}

func newLinuxPlatform(rc config.Receiver) (sunxicir.Platform, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	return &linuxPlatform{
		uioPath: rc.UIODevice,
		pins:    make(map[string]gpio.PinIO),
	}, nil
}

// ----------------------------- Pin ------------------------------------------

// RequestPin resolves the pin and holds it in the claim table. The mux stays
// whatever pinctrl set; reprogramming it here would steal the line from the
// CIR function.
func (p *linuxPlatform) RequestPin(section, name string) (func(), error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("pin %s/%s: not in the gpio registry", section, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.pins[name]; taken {
		return nil, fmt.Errorf("pin %s: already claimed", name)
	}
	p.pins[name] = pin
	glog.V(1).Infof("cir: pin %s claimed, function %s", name, pin.Function())
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.pins, name)
	}, nil
}

// ----------------------------- Clocks ----------------------------------------

const clkDebugRoot = "/sys/kernel/debug/clk"

// linuxClock checks a kernel-managed clock through debugfs where mounted
// and otherwise trusts the devicetree defaults.
type linuxClock struct {
	name string
	rate uint32
}

func (p *linuxPlatform) ClockGet(name string) (sunxicir.Clock, error) {
	return &linuxClock{name: name}, nil
}

func (c *linuxClock) clkFile(f string) (string, error) {
	b, err := os.ReadFile(filepath.Join(clkDebugRoot, c.name, f))
	return strings.TrimSpace(string(b)), err
}

// SetRate records hz and fails only when a readable debugfs rate disagrees
// by more than a percent.
func (c *linuxClock) SetRate(hz uint32) error {
	c.rate = hz
	s, err := c.clkFile("clk_rate")
	if err != nil {
		glog.V(1).Infof("cir: clock %s: no debugfs rate, trusting devicetree", c.name)
		return nil
	}
	got, err := strconv.ParseUint(s, 10, 32)
	if err != nil || got == 0 {
		return nil
	}
	if !near(uint32(got), hz) {
		return fmt.Errorf("clock %s runs at %d Hz, want %d", c.name, got, hz)
	}
	c.rate = uint32(got)
	return nil
}

func (c *linuxClock) Rate() uint32 { return c.rate }

func (c *linuxClock) Enable() error {
	if s, err := c.clkFile("clk_enable_count"); err == nil && s == "0" {
		glog.Warningf("cir: clock %s enable count is 0; boot with clk_ignore_unused or give the node a consumer", c.name)
	}
	return nil
}

func (c *linuxClock) Disable() {}

func near(got, want uint32) bool {
	d := int64(got) - int64(want)
	if d < 0 {
		d = -d
	}
	return d*100 <= int64(want)
}

// ----------------------------- Registers -------------------------------------

// cirWindow is the size of the block's register resource in bytes.
const cirWindow = 200

type mmioRegs struct {
	words *[cirWindow / 4]uint32
	view  *pmem.View
}

func (m *mmioRegs) Read32(off uint32) uint32 {
	return m.words[off/4]
}

func (m *mmioRegs) Write32(off uint32, v uint32) {
	m.words[off/4] = v
}

func (p *linuxPlatform) MapRegisters(base, size uint32) (sunxicir.RegBlock, func(), error) {
	if size > cirWindow {
		return nil, nil, fmt.Errorf("window of %d bytes exceeds the %d byte resource", size, cirWindow)
	}
	view, err := pmem.Map(uint64(base), cirWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("map %#x: %w", base, err)
	}
	var words *[cirWindow / 4]uint32
	if err := view.AsPOD(&words); err != nil {
		view.Close()
		return nil, nil, fmt.Errorf("map %#x: %w", base, err)
	}
	m := &mmioRegs{words: words, view: view}
	return m, func() { view.Close() }, nil
}

// ----------------------------- Interrupt -------------------------------------

// uioWaiter turns the UIO read loop into handler callbacks. uio_pdrv_genirq
// masks the line when it fires, so the handler must run before the unmask
// write or a level interrupt storms.
type uioWaiter struct {
	f    *os.File
	fn   func()
	done chan struct{}
}

func (p *linuxPlatform) RegisterIRQ(line int, fn func()) (func(), error) {
	f, err := os.OpenFile(p.uioPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("uio %s: %w", p.uioPath, err)
	}
	w := &uioWaiter{f: f, fn: fn, done: make(chan struct{})}
	if err := w.unmask(); err != nil {
		f.Close()
		return nil, err
	}
	go w.run()
	glog.V(1).Infof("cir: %s armed for irq %d", p.uioPath, line)

	// Closing the file fails the pending read; waiting on done then means
	// no invocation is in flight and none can follow.
	return func() {
		f.Close()
		<-w.done
	}, nil
}

func (w *uioWaiter) unmask() error {
	var one [4]byte
	binary.LittleEndian.PutUint32(one[:], 1)
	if _, err := w.f.Write(one[:]); err != nil {
		return fmt.Errorf("uio unmask: %w", err)
	}
	return nil
}

func (w *uioWaiter) run() {
	defer close(w.done)
	var buf [4]byte
	for {
		if _, err := io.ReadFull(w.f, buf[:]); err != nil {
			return
		}
		w.fn()
		if w.unmask() != nil {
			return
		}
	}
}
