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

import "flag"

const (
	// defaultHTTPEndpoint is the default HTTP endpoint serving Prometheus /metrics.
	defaultHTTPEndpoint = ""
)

// Register us for command line option processing.
func init() {
	flag.StringVar(&cfg.HTTPEndpoint, "http-endpoint", defaultHTTPEndpoint,
		"HTTP endpoint to serve instrumentation on. Empty disables serving.")
	flag.BoolVar(&cfg.PrometheusExport, "enable-prometheus-export", false,
		"Export metrics to/for Prometheus on the HTTP endpoint.")
}
