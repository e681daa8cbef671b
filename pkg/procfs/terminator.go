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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/containers/lowmem-responder/pkg/responder"
)

// Terminator kills processes with SIGKILL.
type Terminator struct{}

var _ responder.ProcessTerminator = &Terminator{}

// NewTerminator creates a terminator.
func NewTerminator() *Terminator {
	return &Terminator{}
}

// Terminate sends SIGKILL to the given process.
func (t *Terminator) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return errors.Wrapf(err, "failed to kill process %d", pid)
	}
	return nil
}
