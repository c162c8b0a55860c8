package sunxicir

import "sync/atomic"

// ---------------- Channel sink ----------------

// EventKind tags a ChanSink stream entry.
type EventKind uint8

const (
	EventPulse EventKind = iota // Pulse field is valid
	EventIdle                   // packet boundary
	EventReset                  // discard any partial packet
)

func (k EventKind) String() string {
	switch k {
	case EventPulse:
		return "pulse"
	case EventIdle:
		return "idle"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// Event is one entry of a ChanSink stream.
type Event struct {
	Kind  EventKind
	Pulse PulseEvent
}

// ChanSink bridges interrupt-context sink calls onto a buffered channel.
// Sends never block: when the consumer falls behind, events are dropped
// and counted rather than stalling the drain loop.
type ChanSink struct {
	ch    chan Event
	drops uint32 // atomic
}

// NewChanSink sizes the stream buffer; zero or negative picks a default
// deep enough for several full FIFO drains.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 4 * fifoDepth
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

func (s *ChanSink) Push(ev PulseEvent) { s.send(Event{Kind: EventPulse, Pulse: ev}) }
func (s *ChanSink) NotifyIdle()        { s.send(Event{Kind: EventIdle}) }
func (s *ChanSink) NotifyReset()       { s.send(Event{Kind: EventReset}) }

func (s *ChanSink) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		atomic.AddUint32(&s.drops, 1)
	}
}

// Events is the consumer side of the stream.
func (s *ChanSink) Events() <-chan Event { return s.ch }

// Drops counts events discarded because the buffer was full.
func (s *ChanSink) Drops() uint32 { return atomic.LoadUint32(&s.drops) }

// Close ends the stream. Call only after Controller.Stop has returned, so
// no interrupt dispatch can reach the sink anymore.
func (s *ChanSink) Close() { close(s.ch) }
