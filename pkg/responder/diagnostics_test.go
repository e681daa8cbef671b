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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSink records the diagnostics requests it receives.
type fakeSink struct {
	dumps   []DumpKind
	pids    []int
	reports [][]string
}

func (f *fakeSink) RequestDump(kind DumpKind, pid int) {
	f.dumps = append(f.dumps, kind)
	f.pids = append(f.pids, pid)
}

func (f *fakeSink) ReportTopConsumers(lines []string) {
	f.reports = append(f.reports, lines)
}

func newTestScheduler() (*diagScheduler, *fakeSink, *fakeClock) {
	sink := &fakeSink{}
	clock := newFakeClock()
	d := newDiagScheduler(sink, DefaultDumpTriggers())
	d.clock = clock.Now
	return d, sink, clock
}

func TestDiagSchedulerHeavyDump(t *testing.T) {
	d, sink, clock := newTestScheduler()

	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "system_server", RSSKB: 700 * 1024})
	d.endCycle(false)

	require.Equal(t, []DumpKind{DumpHeavyProcess}, sink.dumps)
	require.Equal(t, []int{42}, sink.pids)

	// A second sighting within the pacing interval does not fire again.
	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "system_server", RSSKB: 700 * 1024})
	d.endCycle(false)
	require.Len(t, sink.dumps, 1)

	// After the interval elapses it does.
	clock.Advance(121 * time.Second)
	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "system_server", RSSKB: 700 * 1024})
	d.endCycle(false)
	require.Len(t, sink.dumps, 2)
}

func TestDiagSchedulerHeavyDumpRequiresCriticalName(t *testing.T) {
	d, sink, _ := newTestScheduler()

	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "browser", RSSKB: 700 * 1024})
	d.endCycle(false)

	require.Empty(t, sink.dumps)
}

func TestDiagSchedulerArmedTriggerSurvivesCycles(t *testing.T) {
	d, sink, clock := newTestScheduler()

	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "system_server", RSSKB: 700 * 1024})
	d.endCycle(false)
	require.Len(t, sink.dumps, 1)

	// Arm again inside the pacing interval; the trigger stays armed and
	// fires in a later cycle once the interval has elapsed, without a
	// fresh sighting.
	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 42, Name: "system_server", RSSKB: 700 * 1024})
	d.endCycle(false)
	require.Len(t, sink.dumps, 1)

	clock.Advance(121 * time.Second)
	d.beginCycle(0)
	d.endCycle(false)
	require.Len(t, sink.dumps, 2)
}

func TestDiagSchedulerMeminfoDump(t *testing.T) {
	d, sink, _ := newTestScheduler()

	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 7, Name: "heap", RSSKB: 900 * 1024})
	d.observe(ProcessSnapshot{PID: 8, Name: "small", RSSKB: 1024})
	d.recordKill(ProcessSnapshot{PID: 9, Priority: 50})
	d.endCycle(true)

	// The dump names the heaviest process observed during the sweep.
	require.Equal(t, []DumpKind{DumpMeminfo}, sink.dumps)
	require.Equal(t, []int{7}, sink.pids)
}

func TestDiagSchedulerMeminfoNeedsLowPriorityVictim(t *testing.T) {
	d, sink, _ := newTestScheduler()

	d.beginCycle(0)
	d.observe(ProcessSnapshot{PID: 7, Name: "heap", RSSKB: 900 * 1024})
	d.recordKill(ProcessSnapshot{PID: 9, Priority: 150})
	d.endCycle(true)

	require.Empty(t, sink.dumps)
}

func TestDiagSchedulerTopConsumerReport(t *testing.T) {
	d, sink, clock := newTestScheduler()

	d.beginCycle(12)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.observe(ProcessSnapshot{PID: 2, Name: "b", RSSKB: 200, Priority: 500})
	d.endCycle(true)

	require.Len(t, sink.reports, 1)
	// Headline plus one line per observed process.
	require.Len(t, sink.reports[0], 3)
	require.Equal(t, topReportHeadline, sink.reports[0][0])

	// No report without a kill.
	clock.Advance(time.Minute)
	d.beginCycle(12)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.endCycle(false)
	require.Len(t, sink.reports, 1)

	// No report at floors at or above the verbose bound.
	d.beginCycle(300)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.endCycle(true)
	require.Len(t, sink.reports, 1)
}

func TestDiagSchedulerTopReportPacing(t *testing.T) {
	d, sink, clock := newTestScheduler()

	d.beginCycle(12)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.endCycle(true)
	require.Len(t, sink.reports, 1)

	clock.Advance(5 * time.Second)
	d.beginCycle(12)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.endCycle(true)
	require.Len(t, sink.reports, 1)

	clock.Advance(6 * time.Second)
	d.beginCycle(12)
	d.observe(ProcessSnapshot{PID: 1, Name: "a", RSSKB: 100, Priority: 900})
	d.endCycle(true)
	require.Len(t, sink.reports, 2)
}

func TestDiagSchedulerTopReportLineCap(t *testing.T) {
	d, sink, _ := newTestScheduler()

	d.beginCycle(12)
	for i := 0; i < maxTopReportLines+100; i++ {
		d.observe(ProcessSnapshot{PID: i + 1, Name: "p", RSSKB: 100, Priority: 900})
	}
	d.endCycle(true)

	require.Len(t, sink.reports, 1)
	require.Len(t, sink.reports[0], maxTopReportLines+1)
}
