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

package instrumentation

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	xhttp "github.com/containers/lowmem-responder/pkg/http"
	logger "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/metrics"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// HTTPEndpoint is the address our HTTP server listens on. Metrics and
	// health checks are served on it. An empty endpoint disables serving.
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport controls whether /metrics is exported.
	PrometheusExport bool `json:"prometheusExport,omitempty"`
}

var (
	cfg  = &Config{}
	lock sync.Mutex
	srv  = xhttp.NewServer()
	log  = logger.NewLogger("instrumentation")
)

// HTTPServer returns our HTTP server.
func HTTPServer() *xhttp.Server {
	return srv
}

// Start our instrumentation services.
func Start() error {
	log.Info("starting instrumentation services...")

	lock.Lock()
	defer lock.Unlock()

	return start()
}

// Stop our instrumentation services.
func Stop() {
	lock.Lock()
	defer lock.Unlock()

	stop()
}

// Reconfigure our instrumentation services.
func Reconfigure(newCfg *Config) error {
	lock.Lock()
	defer lock.Unlock()

	stop()
	cfg = newCfg

	return start()
}

func start() error {
	if cfg.HTTPEndpoint == "" {
		log.Info("HTTP endpoint not set, instrumentation disabled")
		return nil
	}

	if cfg.PrometheusExport {
		srv.GetMux().Handle("/metrics", promhttp.HandlerFor(
			metrics.Gatherer(),
			promhttp.HandlerOpts{},
		))
	}

	if err := srv.Start(cfg.HTTPEndpoint); err != nil {
		return fmt.Errorf("failed to start HTTP server: %v", err)
	}

	return nil
}

func stop() {
	srv.Stop()
}
