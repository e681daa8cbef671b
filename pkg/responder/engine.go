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

// Package responder implements a tiered low-memory kill policy. When free
// memory drops below a configured threshold tier, the engine sweeps the
// process table, ranks victim candidates by priority and resident size,
// and terminates the ranked set to restore free memory before the last
// resort OOM killer has to act.
package responder

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	logger "github.com/containers/lowmem-responder/pkg/log"
)

// adaptiveKillFloorKB is the resident size below which adaptive cycles
// leave a candidate alone. An adaptive cycle is a light, frequent touch,
// killing small helpers would buy little memory at a high restart cost.
const adaptiveKillFloorKB = 80 * 1024

// Config holds the adjustable policy parameters of the engine.
type Config struct {
	// PriorityFloors and MinFreeKB form the threshold tier table. Both
	// are ascending, the effective table length is the shorter of the
	// two, at most MaxTiers entries.
	PriorityFloors []int
	MinFreeKB      []int64

	// Protected lists process name substrings that are not killed while
	// the adjusted floor is above ProtectionFloor.
	Protected       []string
	ProtectionFloor int

	// AdaptiveEnabled turns the pressure-driven adaptive shift on.
	AdaptiveEnabled bool
	// AdaptiveFileFloorKB is the reclaimable file memory bound below
	// which high pressure arms the adaptive shift.
	AdaptiveFileFloorKB int64
	// AdaptiveMaxFloor is the floor the adaptive shift clamps down to.
	AdaptiveMaxFloor int

	// Cooldown is the base throttle cooldown unit.
	Cooldown time.Duration

	// Triggers configures the diagnostics dump triggers.
	Triggers DumpTriggers
}

// DefaultConfig returns the default policy parameters.
func DefaultConfig() Config {
	return Config{
		PriorityFloors:   []int{0, 1, 6, 12},
		MinFreeKB:        []int64{1536, 2048, 4096, 16384},
		Protected:        []string{"launcher", "auncher3:commo", "process.acore", "process.gapps", "process.media"},
		ProtectionFloor:  200,
		AdaptiveMaxFloor: 353,
		Cooldown:         DefaultCooldown,
		Triggers:         DefaultDumpTriggers(),
	}
}

// Options are the external collaborators of the engine.
type Options struct {
	Stats       MemoryStatsProvider
	Processes   ProcessTableProvider
	Terminator  ProcessTerminator
	Diagnostics DiagnosticsSink
	// Pressure is optional. If set, the engine subscribes its pressure
	// adapter to it.
	Pressure PressureNotifier
}

// Outcome classifies how a scan cycle ended.
type Outcome int

const (
	// OutcomeHealthy means no threshold tier matched.
	OutcomeHealthy Outcome = iota
	// OutcomeThrottled means the throttle gate aborted the cycle.
	OutcomeThrottled
	// OutcomeKilled means at least one process was terminated.
	OutcomeKilled
	// OutcomeKilledNothing means a tier matched but no process was
	// terminated.
	OutcomeKilledNothing
	// OutcomeCancelled means the caller was cancelled while waiting for
	// the decision lock. Nothing was done, retrying is always safe.
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeKilled:
		return "killed"
	case OutcomeKilledNothing:
		return "killed-nothing"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CycleResult is what a single scan cycle did.
type CycleResult struct {
	Outcome   Outcome
	Deny      DenyReason
	Floor     int
	MinFreeKB int64
	Adaptive  bool
	Kills     int
	FreedKB   int64
}

// Engine runs scan cycles over the process table. A single decision lock
// serializes cycle bodies; concurrent scan requests queue behind it and
// can be cancelled while waiting. All cross-cycle state (throttle gate,
// diagnostics pacing) is owned by the engine and mutated only under the
// lock. The adaptive shift flag is the one exception, it is lock-free so
// the pressure path never blocks.
type Engine struct {
	options  Options
	counters Counters
	tracker  *loadTracker
	adapter  *PressureAdapter
	gate     *ThrottleGate
	diag     *diagScheduler
	selfPID  int

	// lock is the decision-scope lock. Held as a 1-slot semaphore so
	// acquisition can be abandoned on context cancellation.
	lock chan struct{}

	// cfgLock guards the configuration-derived fields below.
	cfgLock         sync.RWMutex
	table           *ThresholdTable
	protected       []string
	protectionFloor int
}

var log = logger.NewLogger("engine")

// NewEngine creates an engine with the given configuration and
// collaborators.
func NewEngine(cfg Config, options Options) (*Engine, error) {
	if options.Stats == nil || options.Processes == nil || options.Terminator == nil {
		return nil, responderError("missing stats, process table, or terminator collaborator")
	}

	table, err := NewThresholdTable(cfg.PriorityFloors, cfg.MinFreeKB)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		options:         options,
		gate:            NewThrottleGate(cfg.Cooldown),
		selfPID:         os.Getpid(),
		lock:            make(chan struct{}, 1),
		table:           table,
		protected:       cfg.Protected,
		protectionFloor: cfg.ProtectionFloor,
	}

	e.adapter = NewPressureAdapter(options.Stats, e.lastMinFree)
	e.adapter.Configure(cfg.AdaptiveEnabled, cfg.AdaptiveFileFloorKB, cfg.AdaptiveMaxFloor)

	if options.Diagnostics != nil {
		e.diag = newDiagScheduler(options.Diagnostics, cfg.Triggers)
	}

	e.tracker = newLoadTracker(&e.counters)

	if options.Pressure != nil {
		options.Pressure.Subscribe(e.adapter.OnPressure)
	}

	collector := &engineCollector{counters: &e.counters}
	if err := collector.register(); err != nil {
		log.Warn("failed to register metrics collector: %v", err)
	}

	log.Info("created engine with tiers [%s]", table)

	return e, nil
}

// Start starts the engine's background reporting.
func (e *Engine) Start() {
	e.tracker.Start()
}

// Stop stops the engine's background reporting.
func (e *Engine) Stop() {
	e.tracker.Stop()
}

// Counters returns the engine's observability counters.
func (e *Engine) Counters() *Counters {
	return &e.counters
}

// OnPressure feeds a pressure level to the engine's adapter. Exposed for
// callers that deliver pressure themselves instead of passing a notifier.
func (e *Engine) OnPressure(level int) {
	e.adapter.OnPressure(level)
}

// Reconfigure updates the adjustable policy parameters. It waits for any
// running cycle to finish first.
func (e *Engine) Reconfigure(cfg Config) error {
	table, err := NewThresholdTable(cfg.PriorityFloors, cfg.MinFreeKB)
	if err != nil {
		return err
	}

	e.lock <- struct{}{}
	defer func() { <-e.lock }()

	e.cfgLock.Lock()
	e.table = table
	e.protected = cfg.Protected
	e.protectionFloor = cfg.ProtectionFloor
	e.cfgLock.Unlock()

	e.adapter.Configure(cfg.AdaptiveEnabled, cfg.AdaptiveFileFloorKB, cfg.AdaptiveMaxFloor)
	if e.diag != nil {
		e.diag.cfg = cfg.Triggers
	}

	log.Info("reconfigured engine with tiers [%s]", table)

	return nil
}

// lastMinFree returns the most severe configured minfree threshold.
func (e *Engine) lastMinFree() int64 {
	e.cfgLock.RLock()
	defer e.cfgLock.RUnlock()
	return e.table.Last().MinFreeKB
}

// Scan runs one scan cycle. Cycles are serialized; a caller cancelled
// while waiting for its turn gets a no-op result.
func (e *Engine) Scan(ctx context.Context) (CycleResult, error) {
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		e.counters.cancelled.Add(1)
		return CycleResult{Outcome: OutcomeCancelled}, nil
	}
	defer func() { <-e.lock }()

	return e.runCycle()
}

// runCycle executes the cycle body under the decision lock.
func (e *Engine) runCycle() (CycleResult, error) {
	e.counters.scans.Add(1)

	snap, err := e.options.Stats.Snapshot()
	if err != nil {
		return CycleResult{Outcome: OutcomeKilledNothing},
			responderError("failed to read memory snapshot: %v", err)
	}

	e.cfgLock.RLock()
	table, protected, protectionFloor := e.table, e.protected, e.protectionFloor
	e.cfgLock.RUnlock()

	tier, matched := table.Match(snap)
	if !matched {
		// Memory is healthier than every tier. This is not a failed
		// kill attempt, no throttle state is touched. A pending
		// adaptive shift is stale by definition and dropped.
		e.adapter.Discard()
		e.counters.healthy.Add(1)
		log.Debug("no tier matched (free %dkB, file %dkB)", snap.FreeKB, snap.FileKB)
		return CycleResult{Outcome: OutcomeHealthy}, nil
	}

	floor, adaptive := e.adapter.Consume(tier.PriorityFloor)
	if adaptive {
		e.counters.adaptive.Add(1)
		log.Info("adaptive shift: floor %d clamped to %d", tier.PriorityFloor, floor)
	}

	if ok, deny := e.gate.Admit(floor); !ok {
		switch deny {
		case DenyJustKilled:
			e.counters.throttledAfterKill.Add(1)
		case DenyKillNothing:
			e.counters.throttledIdle.Add(1)
		}
		log.Debug("throttled at floor %d (%v)", floor, deny)
		return CycleResult{Outcome: OutcomeThrottled, Deny: deny, Floor: floor}, nil
	}

	mode := RankByPriority
	if adaptive {
		mode = RankBySize
	}
	ranker := NewCandidateRanker(mode, maxVictims(adaptive, floor))

	if e.diag != nil {
		e.diag.beginCycle(floor)
	}

	e.sweep(ranker, floor, protected, protectionFloor)

	kills, freedKB := e.kill(ranker, snap, tier, floor, adaptive)

	e.gate.Record(floor, kills)
	if e.diag != nil {
		e.diag.endCycle(kills > 0)
	}

	result := CycleResult{
		Outcome:   OutcomeKilledNothing,
		Floor:     floor,
		MinFreeKB: tier.MinFreeKB,
		Adaptive:  adaptive,
		Kills:     kills,
		FreedKB:   freedKB,
	}
	if kills > 0 {
		result.Outcome = OutcomeKilled
	}

	return result, nil
}

// sweep walks the process table once, offering eligible processes to the
// ranker. The walk runs to completion without yielding, the table can
// change under it and candidates are re-validated before any kill.
func (e *Engine) sweep(ranker *CandidateRanker, floor int, protected []string, protectionFloor int) {
	err := e.options.Processes.Walk(func(p ProcessSnapshot) bool {
		if p.Kernel || p.Dying {
			return true
		}

		if e.diag != nil {
			e.diag.observe(p)
		}

		if floor > protectionFloor && isProtected(p.Name, protected) {
			return true
		}
		if p.Priority < floor {
			return true
		}
		if p.RSSKB <= 0 {
			return true
		}

		ranker.Offer(p)
		return true
	})
	if err != nil {
		log.Error("process sweep failed: %v", err)
	}
}

// kill terminates the ranked candidates, worst-ranked first, re-validating
// each against the live process table immediately before acting.
func (e *Engine) kill(ranker *CandidateRanker, snap MemorySnapshot, tier Tier, floor int, adaptive bool) (int, int64) {
	var (
		kills   int
		freedKB int64
		victims = ranker.Victims()
	)

	for i := len(victims) - 1; i >= 0; i-- {
		p := victims[i]

		cur, alive := e.options.Processes.Refresh(p.PID)
		if !alive || cur.Dying {
			continue
		}
		if cur.Priority < floor {
			log.Info("skip killing '%s' (%d), priority %d dropped below floor %d",
				cur.Name, cur.PID, cur.Priority, floor)
			continue
		}
		if cur.PID == e.selfPID {
			log.Info("skip killing '%s' (%d), own process", cur.Name, cur.PID)
			continue
		}
		if adaptive && cur.RSSKB < adaptiveKillFloorKB {
			log.Info("skip killing '%s' (%d), %dkB below adaptive %dkB floor",
				cur.Name, cur.PID, cur.RSSKB, int64(adaptiveKillFloorKB))
			continue
		}

		reason := "memory below tier limit"
		if adaptive {
			reason = "adaptive pressure shift"
		}
		log.Info("killing '%s' (%d), priority %d, to free %dkB (%s; floor %d, free %dkB, file %dkB, limit %dkB)",
			cur.Name, cur.PID, cur.Priority, cur.RSSKB, reason,
			floor, snap.FreeKB, snap.FileKB, tier.MinFreeKB)

		if err := e.options.Terminator.Terminate(cur.PID); err != nil {
			log.Error("failed to terminate '%s' (%d): %v", cur.Name, cur.PID, err)
			continue
		}

		kills++
		freedKB += cur.RSSKB
		e.counters.kills.Add(1)
		e.counters.freedKB.Add(uint64(cur.RSSKB))
		if e.diag != nil {
			e.diag.recordKill(cur)
		}
	}

	return kills, freedKB
}

// isProtected checks the process name against the protected substrings.
func isProtected(name string, protected []string) bool {
	for _, pattern := range protected {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
