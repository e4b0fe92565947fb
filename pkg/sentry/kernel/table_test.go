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

package kernel

import (
	"testing"

	"github.com/prototypeos/kernel/pkg/sentry/arch"
)

const (
	maxTestSyscall = 1000
)

// createSyscallTable registers a table whose syscall i returns i. The
// returned function unregisters it.
func createSyscallTable() (*SyscallTable, func()) {
	m := make(map[uint64]Syscall)
	for i := uint64(0); i <= maxTestSyscall; i++ {
		j := i
		m[i] = Syscall{
			Fn: func(*Task, arch.SyscallArguments) (uint64, error) {
				return j, nil
			},
		}
	}

	s := &SyscallTable{
		Name:  "table_test",
		Table: m,
	}

	saved := allSyscallTables
	RegisterSyscallTable(s)
	return s, func() {
		// Cleanup registered tables to keep tests separate.
		allSyscallTables = saved
	}
}

func TestTable(t *testing.T) {
	table, cleanup := createSyscallTable()
	defer cleanup()

	// Go through all functions and check that they return the right value.
	for i := uint64(0); i < maxTestSyscall; i++ {
		fn := table.Lookup(i)
		if fn == nil {
			t.Errorf("Syscall %v is set to nil", i)
			continue
		}

		v, _ := fn(nil, arch.SyscallArguments{})
		if v != i {
			t.Errorf("Wrong return value for syscall %v: expected %v, got %v", i, i, v)
		}
	}

	// Check that values outside the range return nil.
	for i := uint64(maxTestSyscall + 1); i < maxTestSyscall+100; i++ {
		fn := table.Lookup(i)
		if fn != nil {
			t.Errorf("Syscall %v is not nil: %v", i, fn)
			continue
		}
	}
}

func TestLookupSyscallTable(t *testing.T) {
	if s, ok := LookupSyscallTable(testSyscalls.Name); !ok || s != testSyscalls {
		t.Errorf("LookupSyscallTable(%q) = %p, %t; want %p", testSyscalls.Name, s, ok, testSyscalls)
	}
	if _, ok := LookupSyscallTable("missing"); ok {
		t.Errorf("LookupSyscallTable(missing) found a table")
	}
}

func TestRegisterSyscallTablePanics(t *testing.T) {
	for _, tc := range []struct {
		name  string
		table *SyscallTable
	}{
		{"duplicate", &SyscallTable{Name: testSyscalls.Name}},
		{"too large", &SyscallTable{Name: "huge", Table: map[uint64]Syscall{maxSyscallNum + 1: {}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			saved := allSyscallTables
			defer func() { allSyscallTables = saved }()
			defer func() {
				if recover() == nil {
					t.Errorf("RegisterSyscallTable did not panic")
				}
			}()
			RegisterSyscallTable(tc.table)
		})
	}
}

func BenchmarkTableLookup(b *testing.B) {
	table, cleanup := createSyscallTable()
	defer cleanup()

	b.ResetTimer()

	j := uint64(0)
	for i := 0; i < b.N; i++ {
		table.Lookup(j)
		j = (j + 1) % 310
	}

	b.StopTimer()
}
