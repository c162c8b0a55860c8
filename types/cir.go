package types

// ------------------------
// Receiver state (retained)
// ------------------------

type CIRState struct {
	State         string `json:"state"`           // "configured", "running", "stopped", "failed"
	Error         string `json:"error,omitempty"` // error code when failed
	ResolutionNs  int64  `json:"resolution_ns"`   // one sample tick
	IdleTimeoutNs int64  `json:"idle_timeout_ns"` // packet-end threshold
	TS            int64  `json:"ts_ns"`           // publish Unix ns
}

// ------------------------
// Receiver events (stream)
// ------------------------

type CIREvent struct {
	Kind       string `json:"kind"` // "pulse", "idle", "reset"
	Mark       bool   `json:"mark,omitempty"`
	DurationNs int64  `json:"duration_ns,omitempty"`
	TS         int64  `json:"ts_ns"`
}

// ------------------------
// Receiver counters (on request)
// ------------------------

type CIRStats struct {
	Interrupts uint32 `json:"interrupts"`
	Samples    uint32 `json:"samples"`
	PacketEnds uint32 `json:"packet_ends"`
	Overflows  uint32 `json:"overflows"`
	SinkDrops  uint32 `json:"sink_drops"`
	TS         int64  `json:"ts_ns"`
}

// ------------------------
// Control replies
// ------------------------

type ControlResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"` // machine-readable short code
}
