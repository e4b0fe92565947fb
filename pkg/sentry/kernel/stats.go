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

package kernel

import (
	"github.com/prototypeos/kernel/pkg/metric"
)

// stats are the kernel's counters.
type stats struct {
	switches *metric.Uint64Metric
	syscalls *metric.Uint64Metric
	traps    *metric.Uint64Metric
}

func (s *stats) register(k *Kernel) {
	r := k.metrics
	s.switches = r.MustCreateNewUint64Metric("kernel_context_switches_total", "Number of times the scheduler dispatched a task.")
	s.syscalls = r.MustCreateNewUint64Metric("kernel_syscalls_total", "Number of syscalls made, by syscall.",
		metric.NewField("syscall", k.syscalls.names()))
	s.traps = r.MustCreateNewUint64Metric("kernel_traps_total", "Number of traps from user mode, by kind.",
		metric.NewField("kind", []string{trapSyscall, trapTimer, trapFault}))
	r.MustRegisterCustomUint64Metric("kernel_frames_in_use", false, "Number of physical frames allocated.",
		func(...string) uint64 { return k.frames.Used() })
	r.MustRegisterCustomUint64Metric("kernel_frames_free", false, "Number of physical frames available.",
		func(...string) uint64 { return k.frames.Free() })
	r.MustRegisterCustomUint64Metric("kernel_tasks_alive", false, "Number of tasks that have not exited.",
		func(...string) uint64 { return uint64(k.alive.Load()) })
}
