// Copyright 2018 The gVisor Authors.
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

package linux

import (
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
)

// Write implements linux syscall write(2). Only Stdout is supported; the
// buffer is copied page by page from the task's address space to the
// kernel console.
func Write(t *kernel.Task, args arch.SyscallArguments) (uint64, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Uint64()

	if fd != Stdout {
		panic("Unsupported fd in sys_write!")
	}

	bufs, err := t.TranslatedByteBuffers(addr, size)
	if err != nil {
		return 0, err
	}

	var n uint64
	for _, b := range bufs {
		w, err := t.Kernel().Console().Write(b)
		n += uint64(w)
		if err != nil {
			return n, handleIOError(n != 0, err, "write")
		}
	}
	return n, nil
}
