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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containers/lowmem-responder/pkg/diagnostics"
	"github.com/containers/lowmem-responder/pkg/healthz"
	"github.com/containers/lowmem-responder/pkg/instrumentation"
	logger "github.com/containers/lowmem-responder/pkg/log"
	"github.com/containers/lowmem-responder/pkg/procfs"
	"github.com/containers/lowmem-responder/pkg/responder"
	"github.com/containers/lowmem-responder/pkg/responder/config"
)

var log = logger.Default()

func main() {
	flag.Parse()
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)

	configFile, hostRoot, scanInterval := responder.Opt()

	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			log.Error("failed to load configuration: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Warn("failed to configure logger: %v", err)
	}

	if cfg.Instrumentation.HTTPEndpoint != "" {
		if err := instrumentation.Reconfigure(&cfg.Instrumentation); err != nil {
			log.Error("failed to start instrumentation: %v", err)
			os.Exit(1)
		}
	} else if err := instrumentation.Start(); err != nil {
		log.Error("failed to start instrumentation: %v", err)
		os.Exit(1)
	}
	defer instrumentation.Stop()

	healthz.Setup(instrumentation.HTTPServer().GetMux())

	procRoot := ""
	if hostRoot != "" {
		procRoot = hostRoot + procfs.DefaultProcRoot
	}

	pressure := procfs.NewPressureSource(procRoot, 0)

	engine, err := responder.NewEngine(cfg.EngineConfig(), responder.Options{
		Stats:       procfs.NewStatsProvider(procRoot),
		Processes:   procfs.NewProcessTable(procRoot),
		Terminator:  procfs.NewTerminator(),
		Diagnostics: diagnostics.NewSink(cfg.Diagnostics.HelperCommand),
		Pressure:    pressure,
	})
	if err != nil {
		log.Error("failed to create engine: %v", err)
		os.Exit(1)
	}

	healthz.RegisterHealthChecker("responder", func() (healthz.Status, error) {
		return healthz.Healthy, nil
	})

	if err := pressure.Start(); err != nil {
		log.Warn("pressure notifications unavailable: %v", err)
	} else {
		defer pressure.Stop()
	}

	engine.Start()
	defer engine.Stop()

	if configFile != "" {
		watcher, err := config.Watch(configFile, func(updated *config.Config) {
			if err := logger.Configure(&updated.Log); err != nil {
				log.Warn("failed to configure logger: %v", err)
			}
			if err := engine.Reconfigure(updated.EngineConfig()); err != nil {
				log.Error("failed to apply configuration update: %v", err)
			}
		})
		if err != nil {
			log.Warn("configuration updates disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("up and running, scanning every %v", scanInterval)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down...")
			return
		case <-ticker.C:
			result, err := engine.Scan(ctx)
			if err != nil {
				log.Error("scan cycle failed: %v", err)
				continue
			}
			if result.Kills > 0 {
				log.Info("scan cycle killed %d process(es), freed %dkB",
					result.Kills, result.FreedKB)
			}
			logger.Flush()
		}
	}
}
