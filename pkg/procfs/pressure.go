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
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/containers/lowmem-responder/pkg/responder"
)

// defaultPressureInterval is how often PSI is sampled.
const defaultPressureInterval = time.Second

// PressureSource polls the kernel PSI memory pressure file and delivers
// the full-stall avg10 percentage to subscribed handlers.
type PressureSource struct {
	sync.Mutex
	procRoot string
	interval time.Duration
	handlers []func(int)
	stop     chan struct{}
}

var _ responder.PressureNotifier = &PressureSource{}

// NewPressureSource creates a pressure source over the given proc mount.
func NewPressureSource(procRoot string, interval time.Duration) *PressureSource {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	if interval <= 0 {
		interval = defaultPressureInterval
	}
	return &PressureSource{
		procRoot: procRoot,
		interval: interval,
	}
}

// Subscribe registers a handler for pressure notifications.
func (s *PressureSource) Subscribe(handler func(level int)) {
	s.Lock()
	defer s.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start starts periodic pressure sampling.
func (s *PressureSource) Start() error {
	if _, err := s.sample(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				level, err := s.sample()
				if err != nil {
					log.Error("failed to sample memory pressure: %v", err)
					continue
				}
				s.deliver(level)
			}
		}
	}()
	s.stop = stop

	return nil
}

// Stop stops pressure sampling.
func (s *PressureSource) Stop() {
	s.Lock()
	defer s.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *PressureSource) deliver(level int) {
	s.Lock()
	handlers := s.handlers
	s.Unlock()

	for _, handler := range handlers {
		handler(level)
	}
}

// sample reads the current full-stall avg10 pressure, rounded to 0-100.
func (s *PressureSource) sample() (int, error) {
	f, err := os.Open(s.procRoot + "/pressure/memory")
	if err != nil {
		return 0, errors.Wrap(err, "failed to open PSI memory file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "full" {
			continue
		}
		value, ok := strings.CutPrefix(fields[1], "avg10=")
		if !ok {
			continue
		}
		avg10, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to parse PSI avg10 %q", value)
		}
		return int(math.Round(avg10)), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to read PSI memory file")
	}

	return 0, errors.New("no full-stall record in PSI memory file")
}
