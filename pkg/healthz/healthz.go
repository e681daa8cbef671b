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

package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	xhttp "github.com/containers/lowmem-responder/pkg/http"
	logger "github.com/containers/lowmem-responder/pkg/log"
)

// CheckFn is a health checker callback registered by a component.
type CheckFn func() (Status, error)

// Status describes the health of a component or the whole.
type Status int

const (
	// Healthy marks a fully functional component.
	Healthy Status = iota
	// Degraded marks a component that works with reduced functionality.
	Degraded
	// NonFunctional marks a component that does not work at all.
	NonFunctional
)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	sorted   []string
	log      = logger.NewLogger("health-check")
)

// Setup prepares the given HTTP request multiplexer for serving healthz.
func Setup(mux *xhttp.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

// RegisterHealthChecker registers the given health checker function.
func RegisterHealthChecker(name string, fn CheckFn) {
	lock.Lock()
	defer lock.Unlock()

	if _, conflict := checkers[name]; conflict {
		panic(fmt.Sprintf("checker %q already registered", name))
	}

	checkers[name] = fn
	sorted = append(sorted, name)
	sort.Strings(sorted)
}

// serve serves a single healthz request.
func serve(w http.ResponseWriter, req *http.Request) {
	status, details := check()
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Errorf("failed to write response: %v", err)
		}
		return
	}

	body := ""
	for _, err := range details {
		body += fmt.Sprintf("%v\n", err)
	}
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// check runs all registered checkers, collecting the worst status.
func check() (Status, []error) {
	status := Healthy
	details := []error{}

	lock.Lock()
	defer lock.Unlock()

	for _, name := range sorted {
		if s, err := checkers[name](); s != Healthy {
			if s > status {
				status = s
			}
			if err != nil {
				details = append(details, err)
				log.Errorf("component %s reported unhealthy: %v", name, err)
			}
		}
	}

	return status, details
}
