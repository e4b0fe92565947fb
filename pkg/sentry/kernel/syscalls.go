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
	"fmt"

	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
)

// maxSyscallNum is the highest supported syscall number.
//
// The types below create fast lookup slices for all syscalls. This maximum
// serves as a sanity check that we don't allocate huge slices for a very
// large syscall.
const maxSyscallNum = 2000

// SyscallFn is a syscall implementation. t is the task on whose behalf the
// kernel runs; the return value is placed in the task's return register
// unless err is non-nil, in which case the negated errno is.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uint64, error)

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Name identifies the table, e.g. "linux".
	Name string

	// Table is the collection of functions.
	Table map[uint64]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup []SyscallFn
}

// allSyscallTables contains all known tables.
var allSyscallTables []*SyscallTable

// LookupSyscallTable returns the SyscallTable registered under name.
func LookupSyscallTable(name string) (*SyscallTable, bool) {
	for _, s := range allSyscallTables {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SyscallTables returns all syscall tables in the system.
func SyscallTables() []*SyscallTable {
	return allSyscallTables
}

// RegisterSyscallTable registers a new syscall table for use by a Kernel.
func RegisterSyscallTable(s *SyscallTable) {
	if max := s.MaxSysno(); max > maxSyscallNum {
		panic(fmt.Sprintf("SyscallTable %s MaxSysno %d exceeds maximum %d", s.Name, max, maxSyscallNum))
	}
	if _, ok := LookupSyscallTable(s.Name); ok {
		panic(fmt.Sprintf("Duplicate SyscallTable registered for %s", s.Name))
	}
	s.Init()
	allSyscallTables = append(allSyscallTables, s)
}

// Init initializes the system call table.
//
// This should normally be called only during registration.
func (s *SyscallTable) Init() {
	max := s.MaxSysno()
	s.lookup = make([]SyscallFn, max+1)
	for num, sc := range s.Table {
		s.lookup[num] = sc.Fn
	}
}

// MaxSysno returns the largest system call number.
func (s *SyscallTable) MaxSysno() (max uint64) {
	for num := range s.Table {
		if num > max {
			max = num
		}
	}
	return max
}

// Lookup returns the syscall implementation, if one exists.
func (s *SyscallTable) Lookup(sysno uint64) SyscallFn {
	if sysno < uint64(len(s.lookup)) {
		return s.lookup[sysno]
	}
	return nil
}

// names returns the names of every syscall in the table.
func (s *SyscallTable) names() []string {
	names := make([]string, 0, len(s.Table))
	for _, sc := range s.Table {
		names = append(names, sc.Name)
	}
	return names
}

// Syscall dispatches syscall id on behalf of the current task and returns
// the value for its return register. An id with no implementation is a
// fatal kernel error.
//
// Syscalls that switch away, such as exit, may not return.
func (k *Kernel) Syscall(id uint64, args arch.SyscallArguments) int64 {
	fn := k.syscalls.Lookup(id)
	if fn == nil {
		panic(fmt.Sprintf("Unsupported syscall_id: %d", id))
	}
	name := k.syscalls.Table[id].Name
	k.stats.syscalls.Increment(name)
	t := k.proc.current()
	if log.IsLogging(log.Debug) {
		log.Debugf("[pid %d] %s(%#x, %#x, %#x)", t.PID(), name, args[0].Value, args[1].Value, args[2].Value)
	}
	rval, err := fn(t, args)
	return linuxerr.SyscallReturn(int64(rval), err)
}
