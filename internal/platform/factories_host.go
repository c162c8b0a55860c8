// internal/platform/factories_host.go
//go:build !linux

package platform

import (
	"fmt"

	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/services/cird/config"
)

// On non-Linux hosts only the simulator backend exists.
func newLinuxPlatform(rc config.Receiver) (sunxicir.Platform, error) {
	return nil, fmt.Errorf("unit %d: the linux backend needs a linux build", rc.Unit)
}
