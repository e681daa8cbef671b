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

// RankMode selects the comparator of a CandidateRanker.
type RankMode int

const (
	// RankByPriority orders candidates by priority descending, then by
	// resident size descending.
	RankByPriority RankMode = iota
	// RankBySize orders candidates by resident size descending only.
	// Used in adaptive mode.
	RankBySize
)

// CandidateRanker keeps a bounded, fully sorted list of victim candidates.
// Entry 0 is the best-ranked victim. When an insertion would exceed the
// capacity the worst-ranked (tail) entry is dropped; a candidate ranking
// worse than every retained entry of a full list is rejected outright.
//
// The capacity is small (at most MaxTiers victims) so the backing array is
// preallocated and insertion is a simple positional shift.
type CandidateRanker struct {
	mode     RankMode
	capacity int
	entries  []ProcessSnapshot
}

// NewCandidateRanker creates a ranker with the given mode and capacity.
func NewCandidateRanker(mode RankMode, capacity int) *CandidateRanker {
	if capacity < 1 {
		capacity = 1
	}
	return &CandidateRanker{
		mode:     mode,
		capacity: capacity,
		entries:  make([]ProcessSnapshot, 0, capacity+1),
	}
}

// ranksBefore returns true if a outranks b under the active comparator.
func (r *CandidateRanker) ranksBefore(a, b ProcessSnapshot) bool {
	if r.mode == RankBySize {
		return a.RSSKB > b.RSSKB
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.RSSKB > b.RSSKB
}

// Offer inserts the candidate at its rank position. Returns false if the
// list was full and the candidate ranked worse than every retained entry.
func (r *CandidateRanker) Offer(c ProcessSnapshot) bool {
	pos := len(r.entries)
	for i, e := range r.entries {
		if r.ranksBefore(c, e) {
			pos = i
			break
		}
	}

	if pos == len(r.entries) && len(r.entries) >= r.capacity {
		return false
	}

	r.entries = append(r.entries, ProcessSnapshot{})
	copy(r.entries[pos+1:], r.entries[pos:])
	r.entries[pos] = c

	if len(r.entries) > r.capacity {
		r.entries = r.entries[:r.capacity]
	}

	return true
}

// Victims returns the retained candidates, best-ranked first.
func (r *CandidateRanker) Victims() []ProcessSnapshot {
	return r.entries
}

// Len returns the number of retained candidates.
func (r *CandidateRanker) Len() int {
	return len(r.entries)
}

// maxVictims returns the victim list capacity for a cycle. The lower the
// floor the more memory is missing, so milder tiers track fewer victims
// and severe ones track more. Adaptive cycles are meant to be a light,
// frequent touch and track at most two.
func maxVictims(adaptive bool, floor int) int {
	switch {
	case adaptive:
		return 2
	case floor >= 1000:
		return 1
	case floor >= 529:
		return 2
	case floor >= 300:
		return 4
	case floor >= 117:
		return 5
	}
	return 6
}
