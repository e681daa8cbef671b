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
	"fmt"
	"strings"
	"time"
)

const (
	// defaultHeavyRSSKB is the resident size above which a system-critical
	// process triggers a dump request.
	defaultHeavyRSSKB = 600 * 1024
	// defaultCriticalName marks system-critical processes for the heavy
	// process dump trigger.
	defaultCriticalName = "system_server"
	// defaultVerboseFloor is the floor below which kills trigger the top
	// memory consumer report.
	defaultVerboseFloor = 300
	// defaultMeminfoFloor is the victim priority below which a kill
	// triggers a system-wide meminfo dump.
	defaultMeminfoFloor = 100

	heavyDumpInterval = 120 * time.Second
	meminfoInterval   = 60 * time.Second
	topReportInterval = 10 * time.Second
	maxTopReportLines = 256
	topReportHeadline = "PID       RSS    priority   name"
)

// DumpTriggers holds the configurable parameters of the diagnostics
// scheduler.
type DumpTriggers struct {
	HeavyRSSKB    int64
	CriticalNames []string
	VerboseFloor  int
	MeminfoFloor  int
}

func DefaultDumpTriggers() DumpTriggers {
	return DumpTriggers{
		HeavyRSSKB:    defaultHeavyRSSKB,
		CriticalNames: []string{defaultCriticalName},
		VerboseFloor:  defaultVerboseFloor,
		MeminfoFloor:  defaultMeminfoFloor,
	}
}

// diagScheduler decides when to delegate dump requests to the diagnostics
// sink. Trigger conditions are armed by engine observations during a cycle
// and fire at cycle end, each paced by its own timestamp independent of the
// throttle gate. Armed triggers survive across cycles until their interval
// allows them to fire.
//
// All methods run under the engine's decision lock.
type diagScheduler struct {
	sink  DiagnosticsSink
	clock func() time.Time
	cfg   DumpTriggers

	heavyArmed   bool
	heavyPID     int
	meminfoArmed bool
	nextHeavy    time.Time
	nextMeminfo  time.Time
	nextReport   time.Time

	// per-cycle state
	verbose     bool
	lines       []string
	heaviestPID int
	heaviestRSS int64
}

func newDiagScheduler(sink DiagnosticsSink, cfg DumpTriggers) *diagScheduler {
	return &diagScheduler{
		sink:  sink,
		clock: time.Now,
		cfg:   cfg,
	}
}

// beginCycle resets the per-cycle observations.
func (d *diagScheduler) beginCycle(floor int) {
	d.verbose = floor < d.cfg.VerboseFloor
	d.lines = d.lines[:0]
	d.heaviestPID = 0
	d.heaviestRSS = 0
}

// observe records a single swept process.
func (d *diagScheduler) observe(p ProcessSnapshot) {
	if d.verbose && len(d.lines) < maxTopReportLines {
		d.lines = append(d.lines,
			fmt.Sprintf("%6d  %8dkB %8d   %s", p.PID, p.RSSKB, p.Priority, p.Name))
	}

	if p.RSSKB > d.heaviestRSS {
		d.heaviestRSS = p.RSSKB
		d.heaviestPID = p.PID
	}

	if p.RSSKB > d.cfg.HeavyRSSKB && d.critical(p.Name) {
		d.heavyArmed = true
		d.heavyPID = p.PID
	}
}

// recordKill records a terminated victim.
func (d *diagScheduler) recordKill(p ProcessSnapshot) {
	if p.Priority < d.cfg.MeminfoFloor {
		d.meminfoArmed = true
	}
}

// endCycle fires any armed trigger whose rate limit allows it.
func (d *diagScheduler) endCycle(killed bool) {
	now := d.clock()

	if d.heavyArmed && now.After(d.nextHeavy) {
		d.sink.RequestDump(DumpHeavyProcess, d.heavyPID)
		d.nextHeavy = now.Add(heavyDumpInterval)
		d.heavyArmed = false
	}

	if d.meminfoArmed && now.After(d.nextMeminfo) {
		d.sink.RequestDump(DumpMeminfo, d.heaviestPID)
		d.nextMeminfo = now.Add(meminfoInterval)
		d.meminfoArmed = false
	}

	if killed && d.verbose && len(d.lines) > 0 && now.After(d.nextReport) {
		report := make([]string, 0, len(d.lines)+1)
		report = append(report, topReportHeadline)
		report = append(report, d.lines...)
		d.sink.ReportTopConsumers(report)
		d.nextReport = now.Add(topReportInterval)
	}
}

func (d *diagScheduler) critical(name string) bool {
	for _, pattern := range d.cfg.CriticalNames {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
