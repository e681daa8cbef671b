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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/about a source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})

	// DebugBlock emits a multiline debug message with a per-line prefix.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock emits a multiline informational message with a per-line prefix.
	InfoBlock(prefix string, format string, args ...interface{})

	// DebugEnabled checks if debug messages are enabled for the source.
	DebugEnabled() bool
	// Source returns the source of the logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// log is the shared state of all loggers.
var log = &state{
	dbgmap: make(srcmap),
	level:  DefaultLevel,
}

// state tracks runtime logging configuration.
type state struct {
	sync.RWMutex
	dbgmap srcmap
	level  Level
	forced bool // debugging forced on for all sources (SIGUSR1 toggle)
}

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return NewLogger(source)
}

// NewLogger creates a Logger for the given source.
func NewLogger(source string) Logger {
	return logger{source: strings.TrimSpace(source)}
}

// Default returns the default Logger.
func Default() Logger {
	return logger{source: "default"}
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

// SetLevel sets the minimum severity of emitted messages.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// EnableDebug enables or disables debug messages for the given source,
// returning the previous setting.
func EnableDebug(source string, enabled bool) bool {
	log.Lock()
	defer log.Unlock()

	previous := log.dbgmap[source]
	log.dbgmap[source] = enabled

	return previous
}

// SetupDebugToggleSignal arranges full debugging to be toggled by the
// given signal.
func SetupDebugToggleSignal(sig os.Signal) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, sig)
	go func() {
		for range sigs {
			log.Lock()
			log.forced = !log.forced
			state := "enabled"
			if !log.forced {
				state = "disabled"
			}
			log.Unlock()
			Default().Info("forced debugging %s by signal %v", state, sig)
		}
	}()
}

func (s *state) setDbgMap(m srcmap) {
	s.dbgmap = m
}

func (s *state) debugging(source string) bool {
	s.RLock()
	defer s.RUnlock()

	if s.forced {
		return true
	}
	if enabled, ok := s.dbgmap[source]; ok {
		return enabled
	}
	return s.dbgmap["*"]
}

func (l logger) prefix() string {
	return l.source + ": "
}

func (l logger) Debug(format string, args ...interface{}) {
	if !log.debugging(l.source) {
		return
	}
	klog.InfoDepth(1, l.prefix()+fmt.Sprintf(format, args...))
}

func (l logger) Info(format string, args ...interface{}) {
	if log.level > LevelInfo {
		return
	}
	klog.InfoDepth(1, l.prefix()+fmt.Sprintf(format, args...))
}

func (l logger) Warn(format string, args ...interface{}) {
	if log.level > LevelWarn {
		return
	}
	klog.WarningDepth(1, l.prefix()+fmt.Sprintf(format, args...))
}

func (l logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.prefix()+fmt.Sprintf(format, args...))
}

func (l logger) Debugf(format string, args ...interface{}) { l.Debug(format, args...) }
func (l logger) Infof(format string, args ...interface{})  { l.Info(format, args...) }
func (l logger) Warnf(format string, args ...interface{})  { l.Warn(format, args...) }
func (l logger) Errorf(format string, args ...interface{}) { l.Error(format, args...) }

// DebugBlock emits a multiline debug message with a per-line prefix.
func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !log.debugging(l.source) {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, l.prefix()+prefix+line)
	}
}

// InfoBlock emits a multiline informational message with a per-line prefix.
func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if log.level > LevelInfo {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, l.prefix()+prefix+line)
	}
}

// DebugEnabled checks if debug messages are enabled for the source.
func (l logger) DebugEnabled() bool {
	return log.debugging(l.source)
}

// Source returns the source of the logger.
func (l logger) Source() string {
	return l.source
}

// loggerError returns a new formatted error specific to logging.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
