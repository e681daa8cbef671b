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

	"github.com/stretchr/testify/require"
)

var (
	defaultFloors  = []int{0, 1, 6, 12}
	defaultMinFree = []int64{1536, 2048, 4096, 16384}
)

func TestNewThresholdTable(t *testing.T) {
	type testCase struct {
		name    string
		floors  []int
		minFree []int64
		length  int
		fail    bool
	}

	for _, tc := range []*testCase{
		{
			name:    "default table",
			floors:  defaultFloors,
			minFree: defaultMinFree,
			length:  4,
		},
		{
			name:    "effective length is the shorter array",
			floors:  []int{0, 1, 6, 12},
			minFree: []int64{1536, 2048},
			length:  2,
		},
		{
			name:    "length capped at MaxTiers",
			floors:  []int{0, 1, 2, 3, 4, 5, 6, 7},
			minFree: []int64{10, 20, 30, 40, 50, 60, 70, 80},
			length:  MaxTiers,
		},
		{
			name:    "empty table rejected",
			floors:  nil,
			minFree: defaultMinFree,
			fail:    true,
		},
		{
			name:    "non-ascending floors rejected",
			floors:  []int{0, 6, 1, 12},
			minFree: defaultMinFree,
			fail:    true,
		},
		{
			name:    "non-ascending minfree rejected",
			floors:  defaultFloors,
			minFree: []int64{1536, 4096, 2048, 16384},
			fail:    true,
		},
		{
			name:    "equal adjacent entries accepted",
			floors:  []int{0, 0, 6, 6},
			minFree: []int64{1536, 1536, 4096, 4096},
			length:  4,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			table, err := NewThresholdTable(tc.floors, tc.minFree)
			if tc.fail {
				require.Error(t, err)
				require.Nil(t, table)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, table)
			require.Equal(t, tc.length, table.Len())
		})
	}
}

func TestThresholdTableMatch(t *testing.T) {
	table, err := NewThresholdTable(defaultFloors, defaultMinFree)
	require.NoError(t, err)

	type testCase struct {
		name    string
		snap    MemorySnapshot
		floor   int
		minFree int64
		matched bool
	}

	for _, tc := range []*testCase{
		{
			name:    "healthier than every tier",
			snap:    MemorySnapshot{FreeKB: 200000, FileKB: 200000},
			matched: false,
		},
		{
			name:    "exactly at the last threshold does not match",
			snap:    MemorySnapshot{FreeKB: 16384, FileKB: 16384},
			matched: false,
		},
		{
			name:    "mild shortage matches the last tier",
			snap:    MemorySnapshot{FreeKB: 5000, FileKB: 5000},
			floor:   12,
			minFree: 16384,
			matched: true,
		},
		{
			name:    "severe shortage matches the first tier",
			snap:    MemorySnapshot{FreeKB: 1000, FileKB: 1200},
			floor:   0,
			minFree: 1536,
			matched: true,
		},
		{
			name:    "both components must be short",
			snap:    MemorySnapshot{FreeKB: 1000, FileKB: 100000},
			matched: false,
		},
		{
			name:    "file cache short but free plentiful",
			snap:    MemorySnapshot{FreeKB: 100000, FileKB: 1000},
			matched: false,
		},
		{
			name:    "components can match different tiers",
			snap:    MemorySnapshot{FreeKB: 1000, FileKB: 3000},
			floor:   6,
			minFree: 4096,
			matched: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tier, ok := table.Match(tc.snap)
			require.Equal(t, tc.matched, ok)
			if tc.matched {
				require.Equal(t, tc.floor, tier.PriorityFloor)
				require.Equal(t, tc.minFree, tier.MinFreeKB)
			}
		})
	}
}

func TestThresholdTableLast(t *testing.T) {
	table, err := NewThresholdTable(defaultFloors, defaultMinFree)
	require.NoError(t, err)
	require.Equal(t, Tier{PriorityFloor: 12, MinFreeKB: 16384}, table.Last())
}

func TestThresholdTableString(t *testing.T) {
	table, err := NewThresholdTable([]int{0, 6}, []int64{1536, 4096})
	require.NoError(t, err)
	require.Equal(t, "0:1536kB,6:4096kB", table.String())
}
