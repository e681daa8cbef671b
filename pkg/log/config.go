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

package log

import (
	"os"
	"strings"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// debugEnvVar is the environment variable used to seed debugging flags.
	debugEnvVar = "LOGGER_DEBUG"
)

// Config provides runtime configuration for logging.
type Config struct {
	// Debug lists sources to enable debug messages for. An entry can be
	// a plain source name, '*' or 'all' for every source, or a comma-
	// separated 'state:source' list ('on:engine,off:procfs').
	Debug []string `json:"debug,omitempty"`
}

// srcmap tracks debugging settings for sources.
type srcmap map[string]bool

// parse parses the given string and updates the srcmap accordingly.
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}

	prev, state, src := "", "", ""
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}
		statesrc := strings.Split(entry, ":")
		switch len(statesrc) {
		case 2:
			state, src = statesrc[0], strings.TrimSpace(statesrc[1])
		case 1:
			state, src = "", strings.TrimSpace(statesrc[0])
		default:
			return loggerError("invalid state spec '%s' in source map", entry)
		}
		if state != "" {
			prev = state
		} else {
			state = prev
			if state == "" {
				state = "on"
			}
		}

		if src == "all" {
			src = "*"
		}

		enabled, err := parseEnabled(state)
		if err != nil {
			return err
		}
		(*m)[src] = enabled
	}

	return nil
}

// parseEnabled parses a boolean-like state value.
func parseEnabled(state string) (bool, error) {
	switch strings.ToLower(state) {
	case "on", "true", "enabled", "1":
		return true, nil
	case "off", "false", "disabled", "0":
		return false, nil
	}
	return false, loggerError("invalid state '%s' in source map", state)
}

// Configure updates the logging configuration.
func Configure(cfg *Config) error {
	debugFlags := make(srcmap)
	for _, value := range cfg.Debug {
		if err := debugFlags.parse(value); err != nil {
			Default().Error("failed to parse debug setting %q: %v", value, err)
			return err
		}
	}

	log.Lock()
	defer log.Unlock()
	log.setDbgMap(debugFlags)

	return nil
}

// Initialize debug logging from the environment.
func init() {
	if value, ok := os.LookupEnv(debugEnvVar); ok {
		debugFlags := make(srcmap)
		if err := debugFlags.parse(value); err != nil {
			Default().Error("failed to parse %s %q: %v", debugEnvVar, value, err)
		} else {
			log.Lock()
			log.setDbgMap(debugFlags)
			log.Unlock()
		}
	}
}
