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

// Package diagnostics implements the dump request sink. Dump requests are
// handed to an external helper process, submissions are asynchronous and
// best effort, the caller never waits on them.
package diagnostics

import (
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	logger "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/responder"
)

// submitBurst bounds back-to-back helper launches. The engine paces its
// triggers already, this guards against a misbehaving caller.
const (
	submitRate  = rate.Limit(0.5)
	submitBurst = 2
)

// Sink launches a helper executable for dump requests and writes top
// consumer reports through the logger.
type Sink struct {
	helper  string
	limiter *rate.Limiter
	log     logger.Logger
}

var _ responder.DiagnosticsSink = &Sink{}

// NewSink creates a sink invoking the given helper command. An empty
// command turns dump requests into log-only events.
func NewSink(helper string) *Sink {
	return &Sink{
		helper:  helper,
		limiter: rate.NewLimiter(submitRate, submitBurst),
		log:     logger.NewLogger("diagnostics"),
	}
}

// RequestDump submits a dump request for the given process.
func (s *Sink) RequestDump(kind responder.DumpKind, pid int) {
	if s.helper == "" {
		s.log.Info("dump requested (%s, pid %d), no helper configured", kind, pid)
		return
	}
	if !s.limiter.Allow() {
		s.log.Warn("dump request (%s, pid %d) dropped, submission rate exceeded", kind, pid)
		return
	}

	cmd := exec.Command(s.helper, string(kind), strconv.Itoa(pid))
	go func() {
		s.log.Info("requesting %s dump for pid %d...", kind, pid)
		if out, err := cmd.CombinedOutput(); err != nil {
			s.log.Error("dump helper failed: %v (output: %s)",
				err, strings.TrimSpace(string(out)))
		}
	}()
}

// ReportTopConsumers emits a report of the top memory consumers.
func (s *Sink) ReportTopConsumers(lines []string) {
	s.log.InfoBlock("  ", "%s", strings.Join(lines, "\n"))
}
