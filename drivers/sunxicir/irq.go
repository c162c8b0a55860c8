package sunxicir

import (
	"sync/atomic"

	"github.com/golang/glog"
)

// ---------------- Interrupt drain ----------------

// serviceInterrupt handles one interrupt invocation: snapshot and clear
// the status, drain the FIFO, then act on the cause bits.
//
// The guard covers only the status read-clear; the FIFO loop runs outside
// it so the control path is never blocked behind a drain. Ordering between
// invocations comes from the platform's serial dispatch. Writing back
// status&0xff clears exactly the cause bits that were observed and leaves
// the read-only count field alone.
func (c *Controller) serviceInterrupt() {
	atomic.AddUint32(&c.interrupts, 1)

	c.irqMu.Lock()
	status := statusBits(c.regs.Read32(regRxIntStatus))
	c.regs.Write32(regRxIntStatus, uint32(status)&statusCauseMask)
	c.irqMu.Unlock()

	count := (uint32(status) >> statusCountShift) & statusCountMask
	for i := uint32(0); i < count; i++ {
		raw := byte(c.regs.Read32(regRxData))
		c.sink.Push(DecodeSample(raw, c.period))
	}
	if count > 0 {
		atomic.AddUint32(&c.samples, count)
	}

	// Buffered samples are forwarded before the packet boundary, and the
	// boundary before an overflow reset, so consumers keep what was read.
	if status.Has(statusPacketEnd) {
		atomic.AddUint32(&c.packetEnds, 1)
		c.sink.NotifyIdle()
	}
	if status.Has(statusOverflow) {
		atomic.AddUint32(&c.overflows, 1)
		glog.V(2).Info("cir: rx fifo overflow, stream reset")
		c.sink.NotifyReset()
	}
}
