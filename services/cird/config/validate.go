package config

import "fmt"

// Validate checks the section beyond well-formedness. Register-level
// limits are delegated to the driver's own validation.
func (c Config) Validate() error {
	if len(c.Receivers) == 0 {
		return fmt.Errorf("no receivers configured")
	}
	seen := make(map[int]bool)
	for i, r := range c.Receivers {
		if r.Unit < 0 {
			return fmt.Errorf("receiver %d: unit must not be negative", i)
		}
		if seen[r.Unit] {
			return fmt.Errorf("receiver %d: duplicate unit %d", i, r.Unit)
		}
		seen[r.Unit] = true
		switch r.Platform {
		case PlatformSim:
		case PlatformLinux:
			if r.UIODevice == "" {
				return fmt.Errorf("receiver %d: linux platform needs uio_device", i)
			}
			if r.Pin == "" {
				return fmt.Errorf("receiver %d: linux platform needs pin", i)
			}
		default:
			return fmt.Errorf("receiver %d: unknown platform %q", i, r.Platform)
		}
		if r.SinkBuffer < 0 {
			return fmt.Errorf("receiver %d: sink_buffer must not be negative", i)
		}
		if err := r.DriverConfig().Validate(); err != nil {
			return fmt.Errorf("receiver %d: %w", i, err)
		}
	}
	return nil
}
