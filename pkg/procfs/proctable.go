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
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/containers/lowmem-responder/pkg/responder"
)

// ProcessTable enumerates live processes from /proc. Processes appearing
// or disappearing during a walk are tolerated, entries that cannot be
// read anymore are simply skipped.
type ProcessTable struct {
	procRoot string
}

var _ responder.ProcessTableProvider = &ProcessTable{}

// NewProcessTable creates a process table over the given proc mount.
func NewProcessTable(procRoot string) *ProcessTable {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &ProcessTable{procRoot: procRoot}
}

// Walk visits every live process once.
func (t *ProcessTable) Walk(visit func(responder.ProcessSnapshot) bool) error {
	entries, err := os.ReadDir(t.procRoot)
	if err != nil {
		return errors.Wrapf(err, "failed to read %q", t.procRoot)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		p, ok := t.read(pid)
		if !ok {
			continue
		}
		if !visit(p) {
			return nil
		}
	}

	return nil
}

// Refresh re-reads the snapshot of a single process.
func (t *ProcessTable) Refresh(pid int) (responder.ProcessSnapshot, bool) {
	return t.read(pid)
}

// read collects the snapshot of one process. The second return value is
// false if the process vanished.
func (t *ProcessTable) read(pid int) (responder.ProcessSnapshot, bool) {
	dir := t.procRoot + "/" + strconv.Itoa(pid)

	comm, err := os.ReadFile(dir + "/comm")
	if err != nil {
		return responder.ProcessSnapshot{}, false
	}

	p := responder.ProcessSnapshot{
		PID:  pid,
		Name: strings.TrimSpace(string(comm)),
	}

	// Kernel threads have no command line.
	cmdline, err := os.ReadFile(dir + "/cmdline")
	if err != nil {
		return responder.ProcessSnapshot{}, false
	}
	p.Kernel = len(cmdline) == 0

	adj, err := os.ReadFile(dir + "/oom_score_adj")
	if err == nil {
		if value, err := strconv.Atoi(strings.TrimSpace(string(adj))); err == nil {
			p.Priority = value
		}
	}

	if !t.readStatus(dir, &p) {
		return responder.ProcessSnapshot{}, false
	}

	return p, true
}

// readStatus fills in resident size and liveness from /proc/<pid>/status.
func (t *ProcessTable) readStatus(dir string, p *responder.ProcessSnapshot) bool {
	f, err := os.Open(dir + "/status")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "State:"):
			state := strings.Fields(strings.TrimPrefix(line, "State:"))
			if len(state) > 0 && (state[0] == "Z" || state[0] == "X") {
				p.Dying = true
			}
		case strings.HasPrefix(line, "VmRSS:"):
			fields := strings.Fields(strings.TrimPrefix(line, "VmRSS:"))
			if len(fields) > 0 {
				if value, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					p.RSSKB = value
				}
			}
		}
	}

	return scanner.Err() == nil
}
