// Copyright 2026 The gVisor Authors.
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

// Exit implements linux syscall exit(2). It does not return.
func Exit(t *kernel.Task, args arch.SyscallArguments) (uint64, error) {
	t.Kernel().ExitCurrentAndRunNext(args[0].Int())
	panic("unreachable")
}

// SchedYield implements linux syscall sched_yield(2).
func SchedYield(t *kernel.Task, args arch.SyscallArguments) (uint64, error) {
	t.Kernel().SuspendCurrentAndRunNext()
	return 0, nil
}
