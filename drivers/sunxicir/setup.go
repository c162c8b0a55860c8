package sunxicir

// ---------------- Sampler bring-up and teardown ----------------
//
// The write order below is load-bearing: mode before sampling parameters,
// a full status clear before the enables, and the module enable strictly
// last so no interrupt can fire against a half-programmed block.

// writeSampler programs CIR mode, the divider/filter/idle thresholds and
// the input polarity. Steps 1..3 of bring-up; no interrupt activity yet.
func writeSampler(regs RegBlock, cfg Config) {
	regs.Write32(regControl, uint32(ctrlModeCIR))

	spl := uint32(cfg.ClockSel) & sampleClockSelMask
	spl |= (uint32(cfg.FilterTicks) & sampleFilterMask) << sampleFilterShift
	spl |= (uint32(cfg.IdleTicks) & sampleIdleMask) << sampleIdleShift
	regs.Write32(regSampleConfig, spl)

	var rxcfg uint32
	if cfg.InvertInput {
		rxcfg = rxConfigInvert
	}
	regs.Write32(regRxConfig, rxcfg)
}

// armInterrupts clears every pending cause and programs the enables with
// the FIFO threshold at half depth. Steps 4..5; callers hold the
// controller's interrupt guard.
func armInterrupts(regs RegBlock) {
	regs.Write32(regRxIntStatus, statusCauseMask)

	en := uint32(intEnablePacketEnd | intEnableIllegalSymbol | intEnableFIFOAvailable)
	en |= uint32(fifoDepth/2-1) << rxThresholdShift
	regs.Write32(regRxIntEnable, en)
}

// enableModule switches the global and receiver enables on, read-modify-
// write so the mode bits survive. Step 6; reception starts here.
func enableModule(regs RegBlock) {
	v := regs.Read32(regControl)
	regs.Write32(regControl, v|uint32(ctrlGlobalEnable|ctrlRxEnable))
}

// disableModule masks every interrupt source, clears pending status and
// switches the block off. Teardown counterpart of bring-up; callers hold
// the controller's interrupt guard.
func disableModule(regs RegBlock) {
	regs.Write32(regRxIntEnable, 0)
	regs.Write32(regRxIntStatus, statusCauseMask)
	regs.Write32(regControl, 0)
}
