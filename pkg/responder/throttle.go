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

import "time"

// DenyReason tells why the throttle gate aborted a cycle.
type DenyReason int

const (
	// DenyNone means the cycle was admitted.
	DenyNone DenyReason = iota
	// DenyJustKilled means a recent kill at an equal-or-milder floor is
	// still settling.
	DenyJustKilled
	// DenyKillNothing means a recent cycle at an equal-or-milder floor
	// found nothing to kill.
	DenyKillNothing
)

// String returns the deny reason name.
func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyJustKilled:
		return "post-kill cooldown"
	case DenyKillNothing:
		return "kill-nothing cooldown"
	}
	return "unknown"
}

// unthrottledFloor is the initial recorded floor of both cooldowns. No
// matchable floor reaches it, so the gate admits everything until the
// first cycle outcome is recorded.
const unthrottledFloor = 2000

// DefaultCooldown is the default base cooldown unit.
const DefaultCooldown = time.Second

// ThrottleGate paces repeated kill cycles with two independent cooldowns:
// one armed after a cycle that killed, one after a cycle that matched a
// tier but killed nothing. Both compare floors, not exact tiers, so a more
// severe match always bypasses a cooldown recorded at a milder one.
//
// The gate is mutated only by the engine under its decision lock.
type ThrottleGate struct {
	baseUnit time.Duration
	clock    func() time.Time

	justKilledUntil  time.Time
	justKilledFloor  int
	killNothingUntil time.Time
	killNothingFloor int
}

// NewThrottleGate creates a gate with the given base cooldown unit.
func NewThrottleGate(baseUnit time.Duration) *ThrottleGate {
	if baseUnit <= 0 {
		baseUnit = DefaultCooldown
	}
	return &ThrottleGate{
		baseUnit:         baseUnit,
		clock:            time.Now,
		justKilledFloor:  unthrottledFloor,
		killNothingFloor: unthrottledFloor,
	}
}

// Admit checks whether a cycle at the given adjusted floor may proceed.
func (g *ThrottleGate) Admit(floor int) (bool, DenyReason) {
	now := g.clock()

	if floor >= g.justKilledFloor && !now.After(g.justKilledUntil) {
		return false, DenyJustKilled
	}
	if floor >= g.killNothingFloor && !now.After(g.killNothingUntil) {
		return false, DenyKillNothing
	}

	return true, DenyNone
}

// Record stores the outcome of a completed cycle. A cycle that killed arms
// the post-kill cooldown, scaled down by the number of victims killed. A
// cycle that killed nothing arms the longer kill-nothing cooldown.
func (g *ThrottleGate) Record(floor int, kills int) {
	now := g.clock()

	if kills > 0 {
		g.justKilledFloor = floor
		g.justKilledUntil = now.Add(g.baseUnit / time.Duration(kills))
		// A kill resets any kill-nothing state left by earlier cycles.
		g.killNothingFloor = unthrottledFloor
		return
	}

	g.killNothingFloor = floor
	g.killNothingUntil = now.Add(2 * g.baseUnit)
}
