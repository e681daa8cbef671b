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

// Package procfs implements the responder's collaborator interfaces on
// top of the Linux /proc filesystem.
package procfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	logger "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/responder"
)

// DefaultProcRoot is the default mount point of proc.
const DefaultProcRoot = "/proc"

var log = logger.NewLogger("procfs")

// StatsProvider reads memory snapshots from /proc/meminfo.
type StatsProvider struct {
	procRoot string
}

var _ responder.MemoryStatsProvider = &StatsProvider{}

// NewStatsProvider creates a stats provider over the given proc mount.
func NewStatsProvider(procRoot string) *StatsProvider {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &StatsProvider{procRoot: procRoot}
}

// Snapshot reads a single coherent memory snapshot. Free memory is
// MemFree, reclaimable file memory is page cache and buffers minus shared
// memory and swap cache, clamped at zero.
func (s *StatsProvider) Snapshot() (responder.MemorySnapshot, error) {
	f, err := os.Open(s.procRoot + "/meminfo")
	if err != nil {
		return responder.MemorySnapshot{}, errors.Wrap(err, "failed to open meminfo")
	}
	defer f.Close()

	var free, cached, buffers, shmem, swapCached int64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := meminfoField(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "MemFree":
			free = value
		case "Cached":
			cached = value
		case "Buffers":
			buffers = value
		case "Shmem":
			shmem = value
		case "SwapCached":
			swapCached = value
		}
	}
	if err := scanner.Err(); err != nil {
		return responder.MemorySnapshot{}, errors.Wrap(err, "failed to read meminfo")
	}

	file := cached + buffers - shmem - swapCached
	if file < 0 {
		file = 0
	}

	return responder.MemorySnapshot{FreeKB: free, FileKB: file}, nil
}

// meminfoField parses a "Key:   12345 kB" meminfo line.
func meminfoField(line string) (string, int64, bool) {
	key, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) < 1 {
		return "", 0, false
	}
	value, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key, value, true
}
