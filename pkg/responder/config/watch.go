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

package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	logger "github.com/containers/lowmem-responder/pkg/log"
)

var log = logger.NewLogger("config")

// Watcher delivers validated configuration updates when the watched file
// changes. Invalid updates are logged and dropped, the previous
// configuration stays in effect.
type Watcher struct {
	file     string
	update   func(*Config)
	fsw      *fsnotify.Watcher
	stopOnce sync.Once
	stopC    chan struct{}
}

// Watch starts watching the given configuration file. The directory is
// watched rather than the file itself so atomic rename-style rewrites are
// picked up.
func Watch(file string, update func(*Config)) (*Watcher, error) {
	absPath, err := filepath.Abs(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", file)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch %q", filepath.Dir(absPath))
	}

	w := &Watcher{
		file:   absPath,
		update: update,
		fsw:    fsw,
		stopC:  make(chan struct{}),
	}
	go w.run()

	log.Info("watching configuration file %q", absPath)

	return w, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopC)
		w.fsw.Close()
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopC:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(w.file)
			if err != nil {
				log.Error("ignoring configuration update: %v", err)
				continue
			}
			log.Info("configuration file %q updated", w.file)
			w.update(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error("file watch error: %v", err)
		}
	}
}
