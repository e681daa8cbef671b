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

package responder

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/metrics"
)

// loadTrackInterval is how often cycle counters are logged and the
// interval tallies restarted.
const loadTrackInterval = 5 * time.Second

// Counters are the advisory observability counters of the engine. They are
// atomics, deliberately not protected by the decision lock.
type Counters struct {
	scans              atomic.Uint64
	kills              atomic.Uint64
	freedKB            atomic.Uint64
	throttledAfterKill atomic.Uint64
	throttledIdle      atomic.Uint64
	healthy            atomic.Uint64
	adaptive           atomic.Uint64
	cancelled          atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Scans              uint64
	Kills              uint64
	FreedKB            uint64
	ThrottledAfterKill uint64
	ThrottledIdle      uint64
	Healthy            uint64
	Adaptive           uint64
	Cancelled          uint64
}

// Read returns a point-in-time copy of the counters.
func (c *Counters) Read() Snapshot {
	return Snapshot{
		Scans:              c.scans.Load(),
		Kills:              c.kills.Load(),
		FreedKB:            c.freedKB.Load(),
		ThrottledAfterKill: c.throttledAfterKill.Load(),
		ThrottledIdle:      c.throttledIdle.Load(),
		Healthy:            c.healthy.Load(),
		Adaptive:           c.adaptive.Load(),
		Cancelled:          c.cancelled.Load(),
	}
}

const (
	descScans = iota
	descKills
	descFreedKB
	descThrottled
	descHealthy
	descAdaptive
)

var descriptors = []*prometheus.Desc{
	descScans: prometheus.NewDesc(
		"scan_cycles_total",
		"Number of scan cycles started.",
		nil, nil,
	),
	descKills: prometheus.NewDesc(
		"kills_total",
		"Number of processes killed.",
		nil, nil,
	),
	descFreedKB: prometheus.NewDesc(
		"freed_kbytes_total",
		"Resident memory reclaimed by kills, in kilobytes.",
		nil, nil,
	),
	descThrottled: prometheus.NewDesc(
		"throttled_cycles_total",
		"Number of cycles aborted by the throttle gate.",
		[]string{"reason"}, nil,
	),
	descHealthy: prometheus.NewDesc(
		"healthy_cycles_total",
		"Number of cycles that matched no threshold tier.",
		nil, nil,
	),
	descAdaptive: prometheus.NewDesc(
		"adaptive_cycles_total",
		"Number of cycles run in adaptive pressure mode.",
		nil, nil,
	),
}

// engineCollector exposes the engine counters to prometheus.
type engineCollector struct {
	counters *Counters
}

func (c *engineCollector) register() error {
	return metrics.Register("engine", c, metrics.WithGroup("responder"))
}

// Describe implements the prometheus.Collector interface.
func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements the prometheus.Collector interface.
func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters.Read()

	ch <- prometheus.MustNewConstMetric(descriptors[descScans],
		prometheus.CounterValue, float64(s.Scans))
	ch <- prometheus.MustNewConstMetric(descriptors[descKills],
		prometheus.CounterValue, float64(s.Kills))
	ch <- prometheus.MustNewConstMetric(descriptors[descFreedKB],
		prometheus.CounterValue, float64(s.FreedKB))
	ch <- prometheus.MustNewConstMetric(descriptors[descThrottled],
		prometheus.CounterValue, float64(s.ThrottledAfterKill), "post-kill")
	ch <- prometheus.MustNewConstMetric(descriptors[descThrottled],
		prometheus.CounterValue, float64(s.ThrottledIdle), "kill-nothing")
	ch <- prometheus.MustNewConstMetric(descriptors[descHealthy],
		prometheus.CounterValue, float64(s.Healthy))
	ch <- prometheus.MustNewConstMetric(descriptors[descAdaptive],
		prometheus.CounterValue, float64(s.Adaptive))
}

// loadTracker periodically logs the per-interval cycle activity.
type loadTracker struct {
	counters *Counters
	log      logger.Logger
	stop     chan struct{}
}

func newLoadTracker(counters *Counters) *loadTracker {
	return &loadTracker{
		counters: counters,
		log:      logger.NewLogger("load-tracker"),
	}
}

// Start starts periodic load reporting.
func (t *loadTracker) Start() {
	if t.stop != nil {
		return
	}

	stop := make(chan struct{})
	go func() {
		last := t.counters.Read()
		lastTime := time.Now()
		ticker := time.NewTicker(loadTrackInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s := t.counters.Read()
				t.log.Info("elapsed %v: scans %d, kills %d, throttled post-kill %d, throttled kill-nothing %d, healthy %d",
					now.Sub(lastTime).Round(time.Millisecond),
					s.Scans-last.Scans,
					s.Kills-last.Kills,
					s.ThrottledAfterKill-last.ThrottledAfterKill,
					s.ThrottledIdle-last.ThrottledIdle,
					s.Healthy-last.Healthy)
				last = s
				lastTime = now
			}
		}
	}()
	t.stop = stop
}

// Stop stops periodic load reporting.
func (t *loadTracker) Stop() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
