// Package config feeds the bus from the daemon's configuration file. The
// file is one YAML mapping; every top-level section is published retained
// on config/<section>, so each service replays exactly its own slice and
// never sees anyone else's.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/tnmeyer/sunxi-cir/bus"
)

const configPrefix = "config"

// Read parses path as a YAML mapping of section name to section body.
func Read(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("config %s: no sections", path)
	}
	return doc, nil
}

// QueueLen digs the subscription queue depth out of a parsed document,
// falling back to def. The bus exists before any service can subscribe, so
// this one value is read from the document directly rather than over a
// topic.
func QueueLen(doc map[string]any, def int) int {
	sect, ok := doc["bus"].(map[string]any)
	if !ok {
		return def
	}
	if v, ok := sect["queue_len"].(int); ok && v > 0 {
		return v
	}
	return def
}

// Service publishes one parsed configuration document, section by section.
type Service struct {
	Doc map[string]any
}

// Start publishes every section retained on config/<name>, in name order
// so runs are reproducible. Consumers replay their section whenever they
// subscribe; start order between services does not matter.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if len(s.Doc) == 0 {
		return errors.New("config: empty document")
	}
	names := make([]string, 0, len(s.Doc))
	for name := range s.Doc {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "bus" {
			continue // consumed directly by main, see QueueLen
		}
		conn.Publish(conn.NewMessage(bus.T(configPrefix, name), s.Doc[name], true))
		glog.V(1).Infof("config: published section %q", name)
	}
	return nil
}
