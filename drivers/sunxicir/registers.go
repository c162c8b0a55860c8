package sunxicir

// ---------------- Register map ----------------

// Offsets into the CIR register window. Registers are 32 bit and accessed
// whole; there are no byte lanes.
const (
	regControl      uint32 = 0x00 // R/W: mode select, global + receiver enable
	regRxConfig     uint32 = 0x10 // R/W: input conditioning (polarity invert)
	regRxData       uint32 = 0x20 // R: FIFO read port, pops one sample per read
	regRxIntEnable  uint32 = 0x2c // R/W: cause enables + FIFO threshold field
	regRxIntStatus  uint32 = 0x30 // low byte W1C causes; bits 8..15 R sample count
	regSampleConfig uint32 = 0x34 // R/W: divider select, filter, idle thresholds
)

// regWindowSize is the size of the mapped register range in bytes.
const regWindowSize uint32 = 200

// ---------------- Control register ----------------

type ctrlBits uint32

const (
	ctrlGlobalEnable ctrlBits = 0x1 << 0 // master enable for the block
	ctrlRxEnable     ctrlBits = 0x1 << 1 // receiver path enable
	ctrlModeCIR      ctrlBits = 0x3 << 4 // consumer-IR sampling mode
)

// ---------------- Rx config register ----------------

// rxConfigInvert flips the demodulator input; the usual receiver modules
// idle high, so inversion is on in the reference configuration.
const rxConfigInvert uint32 = 0x1 << 2

// ---------------- Rx interrupt enable register ----------------

type intEnableBits uint32

const (
	intEnablePacketEnd     intEnableBits = 0x1 << 0
	intEnableIllegalSymbol intEnableBits = 0x1 << 1
	intEnableFIFOAvailable intEnableBits = 0x1 << 4
)

// rxThresholdShift positions the FIFO-available level field. The available
// interrupt fires once the buffered count exceeds the programmed level,
// which bring-up sets to half the FIFO depth minus one.
const rxThresholdShift = 8

// ---------------- Rx interrupt status register ----------------

type statusBits uint32

const (
	statusOverflow  statusBits = 0x1 << 0 // FIFO overran, samples were lost
	statusPacketEnd statusBits = 0x1 << 1 // idle threshold crossed
	statusDataReady statusBits = 0x1 << 4 // FIFO at or above threshold
)

func (b statusBits) Has(flag statusBits) bool { return b&flag != 0 }

// The low status byte holds the cause bits and clears by writing ones back.
// Bits 8..15 read the number of buffered samples and ignore writes.
const (
	statusCauseMask  uint32 = 0xff
	statusCountShift        = 8
	statusCountMask  uint32 = 0xff
)

// ---------------- Sample config register ----------------

const (
	sampleClockSelMask uint32 = 0x3 // divider select: divider = 64 << sel
	sampleFilterShift         = 2
	sampleFilterMask   uint32 = 0x3f // noise filter threshold, in sample ticks
	sampleIdleShift           = 8
	sampleIdleMask     uint32 = 0xff // idle threshold, in 128-tick units
)

// ---------------- FIFO sample byte ----------------

const (
	sampleLevelMask  byte = 0x80 // set while the carrier was present (mark)
	samplePeriodMask byte = 0x7f // run length in sample ticks
)

// fifoDepth is the hardware FIFO size in samples.
const fifoDepth = 16
