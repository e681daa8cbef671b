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
	"sync"
	"sync/atomic"

	logger "github.com/containers/lowmem-responder/pkg/log"
)

// pressureTriggerLevel is the pressure level at or above which an adaptive
// shift can be armed.
const pressureTriggerLevel = 98

// PressureAdapter turns memory pressure notifications into a one-shot
// adaptive shift of the matched priority floor. The shift flag is a single
// atomically exchanged bit, not a queue: duplicate pressure events coalesce
// and at most one shift is honored between scans.
//
// OnPressure runs concurrently with scan cycles and never blocks.
type PressureAdapter struct {
	sync.RWMutex
	enabled     bool
	fileFloorKB int64
	maxFloor    int

	shift atomic.Bool
	stats MemoryStatsProvider
	// lastMinFree returns the most severe minfree threshold currently
	// configured.
	lastMinFree func() int64
}

var alog = logger.NewLogger("adaptive")

// NewPressureAdapter creates an adapter over the given stats provider.
func NewPressureAdapter(stats MemoryStatsProvider, lastMinFree func() int64) *PressureAdapter {
	return &PressureAdapter{
		stats:       stats,
		lastMinFree: lastMinFree,
	}
}

// Configure updates the adaptive parameters.
func (a *PressureAdapter) Configure(enabled bool, fileFloorKB int64, maxFloor int) {
	a.Lock()
	defer a.Unlock()
	a.enabled = enabled
	a.fileFloorKB = fileFloorKB
	a.maxFloor = maxFloor
}

// OnPressure handles a single pressure notification.
func (a *PressureAdapter) OnPressure(level int) {
	a.RLock()
	enabled, fileFloorKB := a.enabled, a.fileFloorKB
	a.RUnlock()

	if !enabled {
		return
	}

	if level >= pressureTriggerLevel {
		snap, err := a.stats.Snapshot()
		if err != nil {
			alog.Error("failed to read memory snapshot: %v", err)
			return
		}
		if snap.FreeKB < a.lastMinFree() && snap.FileKB < fileFloorKB {
			if !a.shift.Swap(true) {
				alog.Debug("armed adaptive shift (pressure %d, free %dkB, file %dkB)",
					level, snap.FreeKB, snap.FileKB)
			}
		}
		return
	}

	// Pressure receded before a scan consumed the flag. Clear it to
	// avoid a stale trigger.
	if a.shift.Swap(false) {
		alog.Debug("cleared stale adaptive shift (pressure %d)", level)
	}
}

// Consume reads and clears the shift flag, clamping the matched floor down
// to the adaptive maximum when the flag was set. The returned bool reports
// whether the cycle runs in adaptive mode. The flag is consumed exactly
// once regardless of the outcome.
func (a *PressureAdapter) Consume(matchedFloor int) (int, bool) {
	armed := a.shift.Swap(false)

	a.RLock()
	maxFloor := a.maxFloor
	a.RUnlock()

	if armed && matchedFloor > maxFloor {
		return maxFloor, true
	}
	return matchedFloor, false
}

// Discard clears the shift flag without applying it. Used when a cycle
// terminates before the adjustment step so a stale flag cannot leak into a
// later cycle.
func (a *PressureAdapter) Discard() {
	a.shift.Store(false)
}
