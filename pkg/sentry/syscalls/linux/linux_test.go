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
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
	"github.com/prototypeos/kernel/pkg/sentry/mm"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
	"github.com/prototypeos/kernel/pkg/sentry/platform/hart"
)

const userBase = 0x10000

func newKernel(t *testing.T) (*kernel.Kernel, *bytes.Buffer) {
	t.Helper()
	l := &mm.Layout{
		Text:          [2]hostarch.PhysAddr{0x1000, 0x2000},
		Rodata:        [2]hostarch.PhysAddr{0x2000, 0x3000},
		Data:          [2]hostarch.PhysAddr{0x3000, 0x4000},
		BSS:           [2]hostarch.PhysAddr{0x4000, 0x5000},
		KernelEnd:     0x5000,
		MemoryEnd:     0x5000 + 256*hostarch.PageSize,
		TrampolinePPN: 1,
	}
	mf, err := pgalloc.NewMemoryFile(l.KernelEnd, l.MemoryEnd)
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	t.Cleanup(func() { mf.Destroy() })
	h := hart.New(mf)
	h.SetBudget(2_000_000)
	console := &bytes.Buffer{}
	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		Layout:       l,
		MemoryFile:   mf,
		Hart:         h,
		SyscallTable: RISCV64.Name,
		Console:      console,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return k, console
}

// start loads the program built by prog and queues it. The caller owns the
// returned reference.
func start(t *testing.T, k *kernel.Kernel, prog func(p *hart.Program)) *kernel.Task {
	t.Helper()
	p := hart.NewProgram(userBase)
	prog(p)
	img, err := p.Image()
	if err != nil {
		t.Fatalf("building program: %v", err)
	}
	task, err := k.NewTask(img)
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	task.IncRef()
	k.AddTask(task)
	return task
}

func writeMsg(p *hart.Program, fd int64, label string, n int64) {
	p.Li(hart.A0, fd)
	p.La(hart.A1, label)
	p.Li(hart.A2, n)
	p.Syscall(SysWrite)
}

func TestTableRegistered(t *testing.T) {
	table, ok := kernel.LookupSyscallTable("linux")
	if !ok || table != RISCV64 {
		t.Fatalf("LookupSyscallTable(linux): got %v, %t", table, ok)
	}
	var got []string
	for _, sysno := range []uint64{SysRead, SysWrite, SysExit, SysSchedYield, SysGetTime, SysGetpid} {
		got = append(got, table.Table[sysno].Name)
		if table.Lookup(sysno) == nil {
			t.Errorf("Lookup(%d) = nil", sysno)
		}
	}
	want := []string{"read", "write", "exit", "sched_yield", "get_time", "getpid"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("syscall names mismatch (-want +got):\n%s", diff)
	}
}

func TestSyscalls(t *testing.T) {
	const msg = "Hello, world!\n"
	for _, tc := range []struct {
		name     string
		prog     func(p *hart.Program)
		console  string
		exitCode int32
	}{
		{
			name: "write",
			prog: func(p *hart.Program) {
				p.Data("msg", []byte(msg))
				writeMsg(p, Stdout, "msg", int64(len(msg)))
				p.Syscall(SysExit)
			},
			console:  msg,
			exitCode: int32(len(msg)),
		},
		{
			name: "write across pages",
			prog: func(p *hart.Program) {
				// msg starts 8 bytes before the end of the first data
				// page.
				p.Data("pad", make([]byte, hostarch.PageSize-8))
				p.Data("msg", []byte("hello, pages"))
				writeMsg(p, Stdout, "msg", 12)
				p.Syscall(SysExit)
			},
			console:  "hello, pages",
			exitCode: 12,
		},
		{
			name: "write unmapped",
			prog: func(p *hart.Program) {
				p.Li(hart.A0, Stdout)
				p.Li(hart.A1, 0x11000)
				p.Li(hart.A2, 4)
				p.Syscall(SysWrite)
				p.Syscall(SysExit)
			},
			exitCode: -14,
		},
		{
			name: "read",
			prog: func(p *hart.Program) {
				p.Li(hart.A0, 0)
				p.Li(hart.A1, 0x10000)
				p.Li(hart.A2, 8)
				p.Syscall(SysRead)
				p.Syscall(SysExit)
			},
		},
		{
			name: "sched_yield",
			prog: func(p *hart.Program) {
				p.Syscall(SysSchedYield)
				p.Syscall(SysExit)
			},
		},
		{
			name: "getpid",
			prog: func(p *hart.Program) {
				p.Syscall(SysGetpid)
				p.Syscall(SysExit)
			},
		},
		{
			name: "exit",
			prog: func(p *hart.Program) {
				p.Li(hart.A0, -3)
				p.Syscall(SysExit)
				// Not reached.
				p.Ld(hart.A0, hart.Zero, 0)
			},
			exitCode: -3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, console := newKernel(t)
			task := start(t, k, tc.prog)
			defer task.DecRef()
			if err := k.RunTasks(); err != nil {
				t.Fatalf("RunTasks failed: %v", err)
			}
			if got := console.String(); got != tc.console {
				t.Errorf("console: got %q, want %q", got, tc.console)
			}
			if got := task.ExitCode(); got != tc.exitCode {
				t.Errorf("exit code: got %d, want %d", got, tc.exitCode)
			}
			if got := task.Status(); got != kernel.TaskZombie {
				t.Errorf("status: got %v, want %v", got, kernel.TaskZombie)
			}
		})
	}
}

func TestGetTime(t *testing.T) {
	const iterations = 100_000
	k, _ := newKernel(t)
	task := start(t, k, func(p *hart.Program) {
		p.Li(hart.S0, iterations)
		p.Label("spin")
		p.Addi(hart.S0, hart.S0, -1)
		p.Bnez(hart.S0, "spin")
		p.Syscall(SysGetTime)
		p.Syscall(SysExit)
	})
	defer task.DecRef()
	if err := k.RunTasks(); err != nil {
		t.Fatalf("RunTasks failed: %v", err)
	}

	// Each iteration retires two instructions.
	want := int32(2 * iterations / (kernel.ClockFreq / 1000))
	if got := task.ExitCode(); got < want || got > want+1 {
		t.Errorf("get_time: got %d ms, want %d ms", got, want)
	}
}

func TestWriteBadFDPanics(t *testing.T) {
	k, _ := newKernel(t)
	start(t, k, func(p *hart.Program) {
		p.Data("msg", []byte("x"))
		writeMsg(p, 2, "msg", 1)
		p.Syscall(SysExit)
	})
	defer func() {
		f, ok := recover().(*arch.Fault)
		if !ok || !strings.Contains(fmt.Sprint(f.Value), "Unsupported fd in sys_write!") {
			t.Errorf("RunTasks: got panic %v, want unsupported fd", f)
		}
	}()
	k.RunTasks()
	t.Errorf("RunTasks returned")
}
