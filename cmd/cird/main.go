// cmd/cird/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/tnmeyer/sunxi-cir/bus"
	"github.com/tnmeyer/sunxi-cir/drivers/sunxicir"
	"github.com/tnmeyer/sunxi-cir/internal/platform"
	"github.com/tnmeyer/sunxi-cir/services/bridge"
	"github.com/tnmeyer/sunxi-cir/services/cird"
	"github.com/tnmeyer/sunxi-cir/services/config"
	"github.com/tnmeyer/sunxi-cir/services/heartbeat"
)

var configPath = flag.String("config", "/etc/cird.yaml", "receiver daemon config file")

func main() {
	flag.Parse()
	defer glog.Flush()

	doc, err := config.Read(*configPath)
	if err != nil {
		glog.Exitf("cird: %v", err)
	}
	glog.Infof("%s %s starting, %d config section(s)", sunxicir.Name, sunxicir.Version, len(doc))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(config.QueueLen(doc, 16))

	if err := (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		glog.Exitf("cird: heartbeat: %v", err)
	}
	go bridge.Start(ctx, b.NewConnection("bridge"))

	// Retained sections replay on subscribe, so services and config can come
	// up in either order.
	if err := (&config.Service{Doc: doc}).Start(ctx, b.NewConnection("config")); err != nil {
		glog.Exitf("cird: %v", err)
	}

	cird.Run(ctx, b.NewConnection("cird"), platform.New)
	glog.Info("cird: bye")
}
