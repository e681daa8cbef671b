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

package responder

import (
	"flag"
	"time"
)

// options captures our command line parameters.
type options struct {
	ConfigFile   string
	HostRoot     string
	ScanInterval time.Duration
}

// Responder command line options.
var opt = options{}

// Register us for command line option processing.
func init() {
	flag.StringVar(&opt.ConfigFile, "config-file", "",
		"Configuration file to read the policy parameters from.")
	flag.StringVar(&opt.HostRoot, "host-root", "",
		"Directory prefix under which the host's /proc is mounted.")
	flag.DurationVar(&opt.ScanInterval, "scan-interval", time.Second,
		"Interval between periodic scan cycles.")
}

// Opt exposes the parsed command line options.
func Opt() (configFile, hostRoot string, scanInterval time.Duration) {
	return opt.ConfigFile, opt.HostRoot, opt.ScanInterval
}
