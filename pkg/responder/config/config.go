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

// Package config loads and validates the responder configuration. The
// core consumes an already validated tier table, all parsing and sanity
// checking lives here.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/containers/lowmem-responder/pkg/instrumentation"
	logcfg "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/responder"
)

// Config is the on-disk configuration of the daemon.
type Config struct {
	Responder       ResponderConfig        `json:"responder"`
	Diagnostics     DiagnosticsConfig      `json:"diagnostics,omitempty"`
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
	Log             logcfg.Config          `json:"log,omitempty"`
}

// ResponderConfig holds the kill policy parameters.
type ResponderConfig struct {
	// PriorityFloors and MinFreeKB are the threshold tier arrays, both
	// ascending and of equal intended length.
	PriorityFloors []int   `json:"priorityFloors,omitempty"`
	MinFreeKB      []int64 `json:"minFreeKB,omitempty"`
	// ProtectedNames are process name substrings that are spared until
	// the adjusted floor drops to ProtectionFloor or below.
	ProtectedNames  []string `json:"protectedNames,omitempty"`
	ProtectionFloor *int     `json:"protectionFloor,omitempty"`
	// Adaptive shift parameters.
	AdaptiveEnabled     bool  `json:"adaptiveEnabled,omitempty"`
	AdaptiveFileFloorKB int64 `json:"adaptiveFileFloorKB,omitempty"`
	AdaptiveMaxFloor    *int  `json:"adaptiveMaxFloor,omitempty"`
	// CooldownMs is the base throttle cooldown unit in milliseconds.
	CooldownMs int `json:"cooldownMs,omitempty"`
}

// DiagnosticsConfig holds the dump trigger parameters.
type DiagnosticsConfig struct {
	// HelperCommand is the executable invoked for dump requests.
	HelperCommand string `json:"helperCommand,omitempty"`
	// HeavyRSSKB overrides the heavy process dump threshold.
	HeavyRSSKB int64 `json:"heavyRSSKB,omitempty"`
	// CriticalNames overrides the system-critical name patterns.
	CriticalNames []string `json:"criticalNames,omitempty"`
	// VerboseFloor overrides the top-consumer report floor.
	VerboseFloor *int `json:"verboseFloor,omitempty"`
	// MeminfoFloor overrides the meminfo dump victim priority floor.
	MeminfoFloor *int `json:"meminfoFloor,omitempty"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}

	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration file %q", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate sanity-checks the configuration, collecting all problems.
func (c *Config) Validate() error {
	var errs *multierror.Error

	r := &c.Responder

	if len(r.PriorityFloors) != len(r.MinFreeKB) {
		errs = multierror.Append(errs, configError(
			"priorityFloors and minFreeKB lengths differ (%d vs %d)",
			len(r.PriorityFloors), len(r.MinFreeKB)))
	}
	if len(r.PriorityFloors) > responder.MaxTiers {
		errs = multierror.Append(errs, configError(
			"too many tiers (%d, at most %d)", len(r.PriorityFloors), responder.MaxTiers))
	}
	for i := 1; i < len(r.PriorityFloors); i++ {
		if r.PriorityFloors[i] < r.PriorityFloors[i-1] {
			errs = multierror.Append(errs, configError(
				"priorityFloors not ascending at index %d", i))
		}
	}
	for i := 1; i < len(r.MinFreeKB); i++ {
		if r.MinFreeKB[i] < r.MinFreeKB[i-1] {
			errs = multierror.Append(errs, configError(
				"minFreeKB not ascending at index %d", i))
		}
	}
	for i, v := range r.MinFreeKB {
		if v <= 0 {
			errs = multierror.Append(errs, configError(
				"minFreeKB[%d] is not positive", i))
		}
	}
	if r.AdaptiveFileFloorKB < 0 {
		errs = multierror.Append(errs, configError("adaptiveFileFloorKB is negative"))
	}
	if r.AdaptiveMaxFloor != nil && *r.AdaptiveMaxFloor < 0 {
		errs = multierror.Append(errs, configError("adaptiveMaxFloor is negative"))
	}
	if r.CooldownMs < 0 {
		errs = multierror.Append(errs, configError("cooldownMs is negative"))
	}
	if c.Diagnostics.HeavyRSSKB < 0 {
		errs = multierror.Append(errs, configError("heavyRSSKB is negative"))
	}

	return errs.ErrorOrNil()
}

// EngineConfig converts the configuration into engine parameters, filling
// in the built-in defaults for anything left unset.
func (c *Config) EngineConfig() responder.Config {
	cfg := responder.DefaultConfig()
	r := &c.Responder

	if len(r.PriorityFloors) > 0 {
		cfg.PriorityFloors = r.PriorityFloors
		cfg.MinFreeKB = r.MinFreeKB
	}
	if r.ProtectedNames != nil {
		cfg.Protected = r.ProtectedNames
	}
	if r.ProtectionFloor != nil {
		cfg.ProtectionFloor = *r.ProtectionFloor
	}
	cfg.AdaptiveEnabled = r.AdaptiveEnabled
	cfg.AdaptiveFileFloorKB = r.AdaptiveFileFloorKB
	if r.AdaptiveMaxFloor != nil {
		cfg.AdaptiveMaxFloor = *r.AdaptiveMaxFloor
	}
	if r.CooldownMs > 0 {
		cfg.Cooldown = time.Duration(r.CooldownMs) * time.Millisecond
	}

	d := &c.Diagnostics
	if d.HeavyRSSKB > 0 {
		cfg.Triggers.HeavyRSSKB = d.HeavyRSSKB
	}
	if d.CriticalNames != nil {
		cfg.Triggers.CriticalNames = d.CriticalNames
	}
	if d.VerboseFloor != nil {
		cfg.Triggers.VerboseFloor = *d.VerboseFloor
	}
	if d.MeminfoFloor != nil {
		cfg.Triggers.MeminfoFloor = *d.MeminfoFloor
	}

	return cfg
}

// configError returns a new formatted configuration-specific error.
func configError(format string, args ...interface{}) error {
	return errors.Errorf("config: "+format, args...)
}
