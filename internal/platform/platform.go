// internal/platform/platform.go

// Package platform selects the board backend behind a receiver unit: the
// register-level simulator everywhere, the /dev/mem and UIO backed one on
// Linux hosts.
package platform

import (
	"fmt"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir/cirsim"
	"github.com/tnmeyer/sunxi-cir/services/cird/config"
)

// New builds the platform backend named by one receiver entry.
func New(rc config.Receiver) (sunxicir.Platform, error) {
	switch rc.Platform {
	case config.PlatformSim:
		return cirsim.NewPlatform(), nil
	case config.PlatformLinux:
		return newLinuxPlatform(rc)
	}
	return nil, fmt.Errorf("unit %d: unknown platform %q", rc.Unit, rc.Platform)
}
