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

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestGate(baseUnit time.Duration) (*ThrottleGate, *fakeClock) {
	clock := newFakeClock()
	gate := NewThrottleGate(baseUnit)
	gate.clock = clock.Now
	return gate, clock
}

func TestThrottleGateAdmitsInitially(t *testing.T) {
	gate, _ := newTestGate(time.Second)

	for _, floor := range []int{0, 12, 353, 1000} {
		ok, reason := gate.Admit(floor)
		require.True(t, ok)
		require.Equal(t, DenyNone, reason)
	}
}

func TestThrottleGatePostKillCooldown(t *testing.T) {
	gate, clock := newTestGate(time.Second)

	gate.Record(12, 1)

	// Same and milder floors are denied while the cooldown runs.
	ok, reason := gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyJustKilled, reason)

	ok, reason = gate.Admit(353)
	require.False(t, ok)
	require.Equal(t, DenyJustKilled, reason)

	// A more severe floor bypasses the cooldown.
	ok, reason = gate.Admit(6)
	require.True(t, ok)
	require.Equal(t, DenyNone, reason)

	// The cooldown expires with time.
	clock.Advance(time.Second + time.Millisecond)
	ok, reason = gate.Admit(12)
	require.True(t, ok)
	require.Equal(t, DenyNone, reason)
}

func TestThrottleGateCooldownScalesWithKills(t *testing.T) {
	gate, clock := newTestGate(time.Second)

	// Four kills cut the cooldown to a quarter of the base unit.
	gate.Record(12, 4)

	clock.Advance(200 * time.Millisecond)
	ok, reason := gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyJustKilled, reason)

	clock.Advance(100 * time.Millisecond)
	ok, _ = gate.Admit(12)
	require.True(t, ok)
}

func TestThrottleGateKillNothingCooldown(t *testing.T) {
	gate, clock := newTestGate(time.Second)

	gate.Record(12, 0)

	ok, reason := gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyKillNothing, reason)

	// More severe floors still get through.
	ok, _ = gate.Admit(0)
	require.True(t, ok)

	// The kill-nothing cooldown is twice the base unit.
	clock.Advance(time.Second)
	ok, reason = gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyKillNothing, reason)

	clock.Advance(time.Second + time.Millisecond)
	ok, _ = gate.Admit(12)
	require.True(t, ok)
}

func TestThrottleGateKillResetsKillNothing(t *testing.T) {
	gate, _ := newTestGate(time.Second)

	gate.Record(12, 0)
	ok, reason := gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyKillNothing, reason)

	// A successful kill at a more severe floor wipes the kill-nothing
	// state; only the fresh post-kill cooldown remains.
	gate.Record(6, 1)
	ok, reason = gate.Admit(12)
	require.False(t, ok)
	require.Equal(t, DenyJustKilled, reason)

	ok, _ = gate.Admit(0)
	require.True(t, ok)
}

func TestThrottleGateBothCooldownsIndependent(t *testing.T) {
	gate, clock := newTestGate(time.Second)

	gate.Record(300, 1)
	clock.Advance(100 * time.Millisecond)
	gate.Record(12, 0)

	// Floor 300 hits the post-kill cooldown first.
	ok, reason := gate.Admit(300)
	require.False(t, ok)
	require.Equal(t, DenyJustKilled, reason)

	// After the post-kill cooldown expires the kill-nothing one, recorded
	// at the milder floor 12, still covers floor 300.
	clock.Advance(time.Second)
	ok, reason = gate.Admit(300)
	require.False(t, ok)
	require.Equal(t, DenyKillNothing, reason)

	// Floor 6 is more severe than both recorded floors.
	ok, _ = gate.Admit(6)
	require.True(t, ok)
}
