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

package procfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/lowmem-responder/pkg/responder"
)

type fakeProcess struct {
	pid     int
	name    string
	cmdline string
	adj     int
	state   string
	rssKB   int64
}

// writeProcTree lays out a fake proc mount in a temporary directory.
func writeProcTree(t *testing.T, meminfo string, procs ...*fakeProcess) string {
	t.Helper()
	root := t.TempDir()

	if meminfo != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))
	}

	for _, p := range procs {
		dir := filepath.Join(root, strconv.Itoa(p.pid))
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(p.name+"\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(p.cmdline), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "oom_score_adj"),
			[]byte(strconv.Itoa(p.adj)+"\n"), 0o644))
		status := "Name:\t" + p.name + "\n" +
			"State:\t" + p.state + "\n" +
			"VmRSS:\t" + strconv.FormatInt(p.rssKB, 10) + " kB\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
	}

	return root
}

func TestStatsProviderSnapshot(t *testing.T) {
	root := writeProcTree(t, `MemTotal:       16384000 kB
MemFree:          123456 kB
MemAvailable:    9000000 kB
Buffers:          100000 kB
Cached:           500000 kB
SwapCached:        20000 kB
Shmem:             80000 kB
`)

	snap, err := NewStatsProvider(root).Snapshot()
	require.NoError(t, err)
	require.Equal(t, int64(123456), snap.FreeKB)
	// Cached + Buffers - Shmem - SwapCached.
	require.Equal(t, int64(500000), snap.FileKB)
}

func TestStatsProviderClampsNegativeFile(t *testing.T) {
	root := writeProcTree(t, `MemFree:  1000 kB
Buffers:     0 kB
Cached:  10000 kB
Shmem:   50000 kB
SwapCached:  0 kB
`)

	snap, err := NewStatsProvider(root).Snapshot()
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.FileKB)
}

func TestStatsProviderMissingMeminfo(t *testing.T) {
	_, err := NewStatsProvider(t.TempDir()).Snapshot()
	require.Error(t, err)
}

func TestProcessTableWalk(t *testing.T) {
	root := writeProcTree(t, "",
		&fakeProcess{pid: 1, name: "init", cmdline: "/sbin/init\x00", adj: -1000, state: "S (sleeping)", rssKB: 1200},
		&fakeProcess{pid: 42, name: "app", cmdline: "/usr/bin/app\x00--flag\x00", adj: 900, state: "S (sleeping)", rssKB: 50000},
		&fakeProcess{pid: 43, name: "kthread", cmdline: "", adj: 0, state: "S (sleeping)", rssKB: 0},
		&fakeProcess{pid: 44, name: "zombie", cmdline: "/usr/bin/dead\x00", adj: 0, state: "Z (zombie)", rssKB: 0},
	)
	// Non-process entries are skipped.
	require.NoError(t, os.Mkdir(filepath.Join(root, "sys"), 0o755))

	seen := map[int]responder.ProcessSnapshot{}
	err := NewProcessTable(root).Walk(func(p responder.ProcessSnapshot) bool {
		seen[p.PID] = p
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 4)

	require.Equal(t, "app", seen[42].Name)
	require.Equal(t, 900, seen[42].Priority)
	require.Equal(t, int64(50000), seen[42].RSSKB)
	require.False(t, seen[42].Kernel)
	require.False(t, seen[42].Dying)

	require.True(t, seen[43].Kernel)
	require.True(t, seen[44].Dying)
	require.Equal(t, -1000, seen[1].Priority)
}

func TestProcessTableWalkStops(t *testing.T) {
	root := writeProcTree(t, "",
		&fakeProcess{pid: 1, name: "a", cmdline: "a\x00", state: "S (sleeping)", rssKB: 1},
		&fakeProcess{pid: 2, name: "b", cmdline: "b\x00", state: "S (sleeping)", rssKB: 1},
	)

	count := 0
	err := NewProcessTable(root).Walk(func(p responder.ProcessSnapshot) bool {
		count++
		return false
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestProcessTableRefresh(t *testing.T) {
	root := writeProcTree(t, "",
		&fakeProcess{pid: 42, name: "app", cmdline: "app\x00", adj: 500, state: "S (sleeping)", rssKB: 2048},
	)
	table := NewProcessTable(root)

	p, ok := table.Refresh(42)
	require.True(t, ok)
	require.Equal(t, "app", p.Name)
	require.Equal(t, 500, p.Priority)

	_, ok = table.Refresh(4242)
	require.False(t, ok)

	// A vanished process is reported as gone, not as an error.
	require.NoError(t, os.RemoveAll(filepath.Join(root, "42")))
	_, ok = table.Refresh(42)
	require.False(t, ok)
}

func TestPressureSourceSample(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "pressure"), 0o755))
	psi := `some avg10=12.34 avg60=5.00 avg300=1.00 total=123456
full avg10=97.60 avg60=40.00 avg300=10.00 total=654321
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "pressure", "memory"), []byte(psi), 0o644))

	level, err := NewPressureSource(root, 0).sample()
	require.NoError(t, err)
	require.Equal(t, 98, level)
}

func TestPressureSourceStartFailsWithoutPSI(t *testing.T) {
	s := NewPressureSource(t.TempDir(), 0)
	require.Error(t, s.Start())
}
