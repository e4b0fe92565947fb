// Copyright 2018 Google LLC
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

// Package linux provides the syscall table for riscv64 tasks, using the
// Linux syscall numbers.
package linux

import (
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
	"github.com/prototypeos/kernel/pkg/sentry/syscalls"
)

// Syscall numbers, from the generic Linux table used by riscv64.
const (
	SysRead       = 63
	SysWrite      = 64
	SysExit       = 93
	SysSchedYield = 124
	SysGetTime    = 169
	SysGetpid     = 172
)

// Stdout is the only file descriptor tasks may write to.
const Stdout = 1

// RISCV64 is the table of supported syscalls.
var RISCV64 = &kernel.SyscallTable{
	Name: "linux",
	Table: map[uint64]kernel.Syscall{
		SysRead:       syscalls.Stub("read", 0),
		SysWrite:      syscalls.Supported("write", Write),
		SysExit:       syscalls.Supported("exit", Exit),
		SysSchedYield: syscalls.Supported("sched_yield", SchedYield),
		SysGetTime:    syscalls.Supported("get_time", GetTime),
		SysGetpid:     syscalls.Supported("getpid", Getpid),
	},
}

func init() {
	kernel.RegisterSyscallTable(RISCV64)
}
