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

import "fmt"

// MaxTiers is the maximum number of threshold tiers in a table.
const MaxTiers = 6

// Tier pairs a priority floor with the free-memory threshold below which
// processes at or above the floor become killable.
type Tier struct {
	PriorityFloor int
	MinFreeKB     int64
}

// ThresholdTable is an ordered set of tiers, least severe first. Both
// fields are non-decreasing by index.
type ThresholdTable struct {
	tiers []Tier
}

// NewThresholdTable builds a table from separate floor and minfree arrays.
// The effective length is the shorter of the two, capped at MaxTiers.
func NewThresholdTable(floors []int, minFreeKB []int64) (*ThresholdTable, error) {
	n := len(floors)
	if len(minFreeKB) < n {
		n = len(minFreeKB)
	}
	if n > MaxTiers {
		n = MaxTiers
	}
	if n == 0 {
		return nil, responderError("threshold table is empty")
	}

	tiers := make([]Tier, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if floors[i] < floors[i-1] {
				return nil, responderError("priority floors not ascending at index %d", i)
			}
			if minFreeKB[i] < minFreeKB[i-1] {
				return nil, responderError("minfree thresholds not ascending at index %d", i)
			}
		}
		tiers[i] = Tier{PriorityFloor: floors[i], MinFreeKB: minFreeKB[i]}
	}

	return &ThresholdTable{tiers: tiers}, nil
}

// Match returns the least severe tier whose threshold exceeds both the free
// and the reclaimable file memory of the snapshot. The second return value
// is false if memory is healthier than every tier.
func (t *ThresholdTable) Match(snap MemorySnapshot) (Tier, bool) {
	for _, tier := range t.tiers {
		if snap.FreeKB < tier.MinFreeKB && snap.FileKB < tier.MinFreeKB {
			return tier, true
		}
	}
	return Tier{}, false
}

// Last returns the most severe tier of the table.
func (t *ThresholdTable) Last() Tier {
	return t.tiers[len(t.tiers)-1]
}

// Len returns the effective length of the table.
func (t *ThresholdTable) Len() int {
	return len(t.tiers)
}

// String returns the table as "floor:minfreeKB" pairs.
func (t *ThresholdTable) String() string {
	str, sep := "", ""
	for _, tier := range t.tiers {
		str += fmt.Sprintf("%s%d:%dkB", sep, tier.PriorityFloor, tier.MinFreeKB)
		sep = ","
	}
	return str
}
