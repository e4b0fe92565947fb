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

// Package kernel provides the task layer of the kernel: task control
// blocks, the scheduler and the trap and syscall boundary between user
// tasks and the kernel.
//
// The kernel runs a single logical thread of control. Each task has a
// kernel context of its own, which runs only while the scheduler has
// switched to it; see arch.Text.
package kernel

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/metric"
	"github.com/prototypeos/kernel/pkg/refs"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/mm"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
	"github.com/prototypeos/kernel/pkg/sentry/platform"
	"github.com/prototypeos/kernel/pkg/sync"
)

// ClockFreq is the frequency of the hart's time counter, in Hz.
const ClockFreq = 12_500_000

// DefaultTickInterval is the default timer period: 10ms.
const DefaultTickInterval = ClockFreq / 100

// Kernel represents an emulated kernel. It must be initialized by calling
// Init.
type Kernel struct {
	layout *mm.Layout
	mf     *pgalloc.MemoryFile
	frames *pgalloc.Allocator
	hart   platform.Hart
	text   *arch.Text

	kernelSpace sync.Exclusive[*mm.MemorySet]
	kernelToken uint64

	pids    *SlotAllocator
	kstacks *SlotAllocator

	TaskManager
	proc Processor

	syscalls *SyscallTable
	console  io.Writer

	idlePolicy   IdlePolicy
	tickInterval uint64
	preempt      bool

	// Entry points in the kernel text.
	trapReturnAddr     uint64
	trapHandlerAddr    uint64
	trapFromKernelAddr uint64

	// initTask is the first task created, which adopts orphans.
	haveInit bool
	initTask refs.WeakRef[Task]

	// alive counts tasks that have not exited.
	alive atomic.Int64

	stats   stats
	metrics *metric.Registry

	// OnDispatch, if set, is called each time the scheduler dispatches a
	// task, with the number of tasks still waiting.
	OnDispatch func(t *Task, readyLen int)
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// Layout is the physical memory layout. The frame allocator manages
	// [Layout.KernelEnd, Layout.MemoryEnd).
	Layout *mm.Layout

	// MemoryFile is physical memory. It must cover the managed range.
	MemoryFile *pgalloc.MemoryFile

	// Hart is the hardware thread tasks run on.
	Hart platform.Hart

	// SyscallTable names the registered syscall table to dispatch through.
	SyscallTable string

	// Console receives the output of write.
	Console io.Writer

	// MaxTasks bounds the number of live tasks. Zero means
	// DefaultMaxTasks.
	MaxTasks uint32

	IdlePolicy IdlePolicy

	// TickInterval is the timer period in time counter units. Zero
	// disables the timer.
	TickInterval uint64

	// Preempt makes each timer tick suspend the running task.
	Preempt bool
}

// Init initializes the Kernel with no tasks: it sets up the frame
// allocator, maps and activates the kernel address space, and arms the
// timer.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.Layout == nil || args.MemoryFile == nil || args.Hart == nil {
		return fmt.Errorf("layout, memory file and hart are required")
	}
	if err := args.Layout.Validate(); err != nil {
		return fmt.Errorf("invalid memory layout: %w", err)
	}
	table, ok := LookupSyscallTable(args.SyscallTable)
	if !ok {
		return fmt.Errorf("no syscall table %q registered", args.SyscallTable)
	}
	switch args.IdlePolicy {
	case "":
		args.IdlePolicy = IdleShutdown
	case IdleShutdown, IdlePanic:
	default:
		return fmt.Errorf("unknown idle policy %q", args.IdlePolicy)
	}
	if args.MaxTasks == 0 {
		args.MaxTasks = DefaultMaxTasks
	}
	if args.Console == nil {
		args.Console = io.Discard
	}

	k.layout = args.Layout
	k.mf = args.MemoryFile
	k.hart = args.Hart
	k.syscalls = table
	k.console = args.Console
	k.idlePolicy = args.IdlePolicy
	k.tickInterval = args.TickInterval
	k.preempt = args.Preempt

	k.frames = pgalloc.NewAllocator(k.mf)
	k.frames.Init(k.layout.KernelEnd.Ceil(), k.layout.MemoryEnd.Floor())
	log.Infof("Frame allocator: %d frames in [%v, %v)", k.frames.Free(), k.layout.KernelEnd, k.layout.MemoryEnd)

	k.text = arch.NewText(k.layout.Text[0].Uint64())
	k.trapReturnAddr = k.text.Register("trap_return", k.TrapReturn)
	k.trapHandlerAddr = k.text.Register("trap_handler", k.TrapHandler)
	k.trapFromKernelAddr = k.text.Register("trap_from_kernel", k.trapFromKernel)

	ks, err := mm.NewKernel(k.frames, k.layout)
	if err != nil {
		return fmt.Errorf("building kernel address space: %w", err)
	}
	k.kernelSpace.Init("kernel space", ks)
	k.kernelToken = ks.Token()
	ks.Activate(k.hart)
	log.Infof("Kernel address space active, satp %#x", k.kernelToken)

	k.pids = NewSlotAllocator("pid", args.MaxTasks)
	k.kstacks = NewSlotAllocator("kernel stack", args.MaxTasks)
	k.TaskManager.init()
	k.proc.init()

	k.metrics = metric.NewRegistry()
	k.stats.register(k)

	k.SetTrapEntryKernel()
	if k.tickInterval != 0 {
		k.hart.EnableTimerInterrupt()
		k.SetNextTrigger()
		log.Infof("Timer armed, tick every %d cycles", k.tickInterval)
	}
	return nil
}

// Destroy releases the kernel address space. The kernel must have no
// tasks.
func (k *Kernel) Destroy() {
	if n := k.alive.Load(); n != 0 {
		panic(fmt.Sprintf("destroying kernel with %d live tasks", n))
	}
	k.kernelSpace.With(func(ks **mm.MemorySet) {
		(*ks).Release()
		*ks = nil
	})
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *pgalloc.Allocator {
	return k.frames
}

// MemoryFile returns physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// Text returns the kernel text.
func (k *Kernel) Text() *arch.Text {
	return k.text
}

// Hart returns the hart tasks run on.
func (k *Kernel) Hart() platform.Hart {
	return k.hart
}

// Console returns the console sink.
func (k *Kernel) Console() io.Writer {
	return k.console
}

// Processor returns the processor state.
func (k *Kernel) Processor() *Processor {
	return &k.proc
}

// SyscallTable returns the table syscalls dispatch through.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// Metrics returns the kernel's metrics.
func (k *Kernel) Metrics() *metric.Registry {
	return k.metrics
}

// KernelToken returns the satp value of the kernel address space.
func (k *Kernel) KernelToken() uint64 {
	return k.kernelToken
}

// TrapHandlerAddr returns the address of TrapHandler in the kernel text.
func (k *Kernel) TrapHandlerAddr() uint64 {
	return k.trapHandlerAddr
}

// TrapReturnAddr returns the address of TrapReturn in the kernel text.
func (k *Kernel) TrapReturnAddr() uint64 {
	return k.trapReturnAddr
}

// LiveTasks returns the number of tasks that have not exited.
func (k *Kernel) LiveTasks() int64 {
	return k.alive.Load()
}

// PIDsInUse returns the number of allocated pids.
func (k *Kernel) PIDsInUse() uint32 {
	return k.pids.InUse()
}

// WithKernelSpace calls fn with exclusive access to the kernel address
// space.
func (k *Kernel) WithKernelSpace(fn func(ks *mm.MemorySet)) {
	k.kernelSpace.With(func(ks **mm.MemorySet) {
		fn(*ks)
	})
}

// removeKernelStack unmaps kernel stack slot id from the kernel address
// space.
func (k *Kernel) removeKernelStack(id uint64) {
	bottom, _ := hostarch.KernelStackPosition(id)
	k.kernelSpace.With(func(ks **mm.MemorySet) {
		if !(*ks).RemoveAreaWithStartVPN(bottom.Floor()) {
			panic(fmt.Sprintf("kernel stack %d at %v is not mapped", id, bottom))
		}
	})
}
