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

// MemorySnapshot is a coherent view of system memory, taken once per scan
// cycle. FileKB only counts file-backed pages the kernel could reclaim.
type MemorySnapshot struct {
	FreeKB int64
	FileKB int64
}

// ProcessSnapshot is the state of a single process at the time it was read.
// Process state can change at any time, so a snapshot is re-read for a
// candidate right before acting on it.
type ProcessSnapshot struct {
	PID      int
	Priority int
	RSSKB    int64
	Name     string
	Dying    bool
	Kernel   bool
}

// MemoryStatsProvider supplies the per-cycle memory snapshot.
type MemoryStatsProvider interface {
	// Snapshot returns a single coherent read of system memory.
	Snapshot() (MemorySnapshot, error)
}

// ProcessTableProvider supplies the live process set.
type ProcessTableProvider interface {
	// Walk visits every live process once. The walk is lazy, processes
	// appearing or disappearing during it are tolerated. Returning false
	// from the visitor stops the walk.
	Walk(visit func(ProcessSnapshot) bool) error
	// Refresh re-reads the snapshot of a single process. The second
	// return value is false if the process no longer exists.
	Refresh(pid int) (ProcessSnapshot, bool)
}

// ProcessTerminator delivers kill requests.
type ProcessTerminator interface {
	// Terminate requests the termination of the given process. Failure
	// is reported but not retried within a cycle.
	Terminate(pid int) error
}

// PressureNotifier delivers memory pressure levels (0-100) to a handler,
// periodically or on threshold crossings.
type PressureNotifier interface {
	// Subscribe registers the handler for pressure notifications.
	Subscribe(handler func(level int))
}

// DumpKind tells a DiagnosticsSink what kind of dump to take.
type DumpKind string

const (
	// DumpHeavyProcess requests a memory/thread dump of a single heavy process.
	DumpHeavyProcess DumpKind = "heavy-process"
	// DumpMeminfo requests a system-wide memory usage dump.
	DumpMeminfo DumpKind = "meminfo"
)

// DiagnosticsSink executes diagnostic dump requests. All calls are
// asynchronous and best-effort, the engine never waits on them.
type DiagnosticsSink interface {
	// RequestDump submits a dump request for the given process.
	RequestDump(kind DumpKind, pid int)
	// ReportTopConsumers emits a report of the top memory consumers.
	ReportTopConsumers(lines []string)
}
