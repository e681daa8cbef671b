// Copyright The Lowmem Responder Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics implements a registry for prometheus collectors. Components
// register their collectors with a name and an optional group. All registered
// collectors are gathered into a single registry which instrumentation then
// exports over HTTP.
package metrics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	logger "github.com/containers/lowmem-responder/pkg/log"
)

const (
	// Namespace is the common prefix of exported metric names.
	Namespace = "lowmem"
)

type (
	// Collector is a registered prometheus.Collector.
	Collector struct {
		collector prometheus.Collector
		name      string
		group     string
		plain     bool
	}

	// CollectorOption is an option for a registered Collector.
	CollectorOption func(*Collector)
)

var (
	lock       sync.Mutex
	registry   = prometheus.NewRegistry()
	collectors = map[string]*Collector{}
	log        = logger.Get("metrics")
)

// WithGroup is an option to assign the collector to a named group. Grouped
// collectors get the group name as a metric name subsystem prefix.
func WithGroup(group string) CollectorOption {
	return func(c *Collector) {
		c.group = group
	}
}

// WithoutNamespace is an option to disable namespace prefixing.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.plain = true
	}
}

// Name returns the full name of the collector.
func (c *Collector) Name() string {
	if c.group == "" {
		return c.name
	}
	return c.group + "/" + c.name
}

// Register registers the given collector.
func Register(name string, collector prometheus.Collector, options ...CollectorOption) error {
	lock.Lock()
	defer lock.Unlock()

	c := &Collector{
		name:      name,
		collector: collector,
	}
	for _, o := range options {
		o(c)
	}

	if _, ok := collectors[c.Name()]; ok {
		return metricsError("collector %q already registered", c.Name())
	}

	reg := prometheus.Registerer(registry)
	if !c.plain {
		prefix := Namespace + "_"
		if c.group != "" {
			prefix += c.group + "_"
		}
		reg = prometheus.WrapRegistererWithPrefix(prefix, reg)
	}

	if err := reg.Register(collector); err != nil {
		return metricsError("failed to register collector %q: %v", c.Name(), err)
	}

	collectors[c.Name()] = c
	log.Info("registered collector %q", c.Name())

	return nil
}

// Gatherer returns the gatherer for all registered collectors.
func Gatherer() prometheus.Gatherer {
	return registry
}

// Gather collects metrics from all registered collectors.
func Gather() ([]*model.MetricFamily, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, metricsError("failed to gather metrics: %v", err)
	}
	if log.DebugEnabled() {
		for _, f := range families {
			dump("gathered", f)
		}
	}
	return families, nil
}

// RegisteredNames returns the names of registered collectors.
func RegisteredNames() []string {
	lock.Lock()
	defer lock.Unlock()

	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// dump debug-dumps the given MetricFamily data.
func dump(prefix string, f *model.MetricFamily) {
	buf := &bytes.Buffer{}
	if _, err := expfmt.MetricFamilyToText(buf, f); err != nil {
		return
	}
	log.DebugBlock("  <"+prefix+"> ", "%s", strings.TrimSpace(buf.String()))
}

// metricsError returns a new formatted error specific to metrics handling.
func metricsError(format string, args ...interface{}) error {
	return fmt.Errorf("metrics: "+format, args...)
}
