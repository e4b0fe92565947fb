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

	"github.com/prototypeos/kernel/pkg/cleanup"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/refs"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/mm"
	"github.com/prototypeos/kernel/pkg/sync"
)

// TaskStatus is the scheduling state of a task.
type TaskStatus int

// Task states. A task moves UnInit -> Ready -> Running, then back to Ready
// when it yields or to Zombie when it exits.
const (
	TaskUnInit TaskStatus = iota
	TaskReady
	TaskRunning
	TaskZombie
)

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	switch s {
	case TaskUnInit:
		return "UnInit"
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskZombie:
		return "Zombie"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// Task is a user task: one address space with one thread of control.
//
// A Task is reference counted. The ready queue, the processor and a
// parent's child list each hold a reference; the task is destroyed, and its
// pid and kernel stack released, when the last one is dropped.
type Task struct {
	refs.AtomicRefCount

	k *Kernel

	// pid and kstack are immutable.
	pid    *SlotHandle
	kstack *SlotHandle

	inner sync.Exclusive[taskInner]
}

// taskInner is the mutable state of a Task.
type taskInner struct {
	// Context is where the task's kernel context resumes.
	Context arch.TaskContext

	// TrapCxPPN is the frame holding the task's trap frame.
	TrapCxPPN hostarch.PhysPageNum

	// BaseSize is the top of the user stack the task started with.
	BaseSize hostarch.VirtAddr

	Status TaskStatus

	// MemorySet is the task's address space. It is released when the task
	// exits.
	MemorySet *mm.MemorySet

	ExitCode int32

	// Parent never keeps the parent alive.
	Parent refs.WeakRef[Task]

	// Children hold a reference each.
	Children []*Task
}

// NewTask creates a Ready task running the executable image elfData. The
// caller holds the only reference to the returned task, which it usually
// hands to AddTask.
//
// Running out of pids or kernel stacks returns an error wrapping
// linuxerr.EAGAIN; running out of frames one wrapping linuxerr.ENOMEM; a
// malformed image one wrapping linuxerr.ENOEXEC. Nothing is leaked on error.
func (k *Kernel) NewTask(elfData []byte) (*Task, error) {
	ms, sp, entry, err := mm.NewTask(k.frames, k.layout, elfData)
	if err != nil {
		return nil, fmt.Errorf("loading task image: %w", err)
	}
	cu := cleanup.Make(ms.Release)
	defer cu.Clean()

	trapCxPPN := ms.PageTables().TranslatePPN(hostarch.TrapContext.Floor())

	pid, err := k.pids.Alloc()
	if err != nil {
		return nil, err
	}
	cu.Add(pid.Release)
	kstack, err := k.kstacks.Alloc()
	if err != nil {
		return nil, err
	}
	cu.Add(kstack.Release)

	bottom, top := hostarch.KernelStackPosition(kstack.ID())
	k.kernelSpace.With(func(ks **mm.MemorySet) {
		area := mm.NewMapArea(bottom, top, mm.Framed, mm.PermR|mm.PermW).Named(fmt.Sprintf("kernel stack %d", kstack.ID()))
		err = (*ks).InsertArea(area, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("mapping kernel stack %d: %w", kstack.ID(), err)
	}
	cu.Add(func() { k.removeKernelStack(kstack.ID()) })

	t := &Task{k: k, pid: pid, kstack: kstack}
	t.inner.Init(fmt.Sprintf("task %d", pid.ID()), taskInner{
		Context:   arch.GotoTrapReturn(k.trapReturnAddr, top.Uint64()),
		TrapCxPPN: trapCxPPN,
		BaseSize:  sp,
		Status:    TaskReady,
		MemorySet: ms,
	})
	tf := arch.AppInitContext(entry, sp, k.kernelToken, top.Uint64(), k.trapHandlerAddr)
	t.SetTrapFrame(&tf)
	cu.Release()

	k.alive.Add(1)
	if !k.haveInit {
		k.haveInit = true
		k.initTask = refs.NewWeakRef(t)
	}
	log.Infof("Created task %d: entry %v, user stack %v, kernel stack [%v, %v)", pid.ID(), entry, sp, bottom, top)
	return t, nil
}

// Spawn creates a task as NewTask does and makes it a child of parent.
func (k *Kernel) Spawn(parent *Task, elfData []byte) (*Task, error) {
	child, err := k.NewTask(elfData)
	if err != nil {
		return nil, err
	}
	child.inner.With(func(in *taskInner) {
		in.Parent = refs.NewWeakRef(parent)
	})
	child.IncRef()
	parent.inner.With(func(in *taskInner) {
		in.Children = append(in.Children, child)
	})
	return child, nil
}

// InnerExclusiveAccess returns the task's mutable state and the function
// that gives it back. Acquiring it again before releasing panics; it must
// be released before switching away.
func (t *Task) InnerExclusiveAccess() (*taskInner, func()) {
	return t.inner.Lock()
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// PID returns the task's process id.
func (t *Task) PID() uint64 {
	return t.pid.ID()
}

// KernelStack returns the [bottom, top) range of the task's kernel stack in
// the kernel address space.
func (t *Task) KernelStack() (bottom, top hostarch.VirtAddr) {
	return hostarch.KernelStackPosition(t.kstack.ID())
}

// Status returns the task's scheduling state.
func (t *Task) Status() TaskStatus {
	in, release := t.inner.Lock()
	defer release()
	return in.Status
}

// ExitCode returns the code the task exited with.
func (t *Task) ExitCode() int32 {
	in, release := t.inner.Lock()
	defer release()
	return in.ExitCode
}

// Parent returns the task's parent with a reference held, or nil.
func (t *Task) Parent() *Task {
	in, release := t.inner.Lock()
	defer release()
	return in.Parent.Get()
}

// Children returns the pids of the task's children.
func (t *Task) Children() []uint64 {
	in, release := t.inner.Lock()
	defer release()
	pids := make([]uint64, 0, len(in.Children))
	for _, c := range in.Children {
		pids = append(pids, c.PID())
	}
	return pids
}

// UserToken returns the satp value of the task's address space.
func (t *Task) UserToken() uint64 {
	in, release := t.inner.Lock()
	defer release()
	if in.MemorySet == nil {
		panic(fmt.Sprintf("task %d has no address space", t.PID()))
	}
	return in.MemorySet.Token()
}

// MemorySet returns the task's address space, which is nil once the task
// has exited.
func (t *Task) MemorySet() *mm.MemorySet {
	in, release := t.inner.Lock()
	defer release()
	return in.MemorySet
}

func (t *Task) trapCx() []byte {
	in, release := t.inner.Lock()
	defer release()
	return t.k.mf.Bytes(in.TrapCxPPN)
}

// TrapFrame returns a copy of the task's trap frame.
func (t *Task) TrapFrame() *arch.TrapFrame {
	var tf arch.TrapFrame
	tf.UnmarshalBytes(t.trapCx())
	return &tf
}

// SetTrapFrame replaces the task's trap frame.
func (t *Task) SetTrapFrame(tf *arch.TrapFrame) {
	tf.MarshalBytes(t.trapCx())
}

// TranslatedByteBuffers returns the kernel views of the n bytes of user
// memory at ptr, one per page crossed.
func (t *Task) TranslatedByteBuffers(ptr hostarch.VirtAddr, n uint64) ([][]byte, error) {
	return mm.TranslatedByteBuffers(t.UserToken(), t.k.frames, ptr, n)
}

// DecRef drops a reference, destroying the task when it was the last.
func (t *Task) DecRef() {
	t.DecRefWithDestructor(t.destroy)
}

func (t *Task) destroy() {
	in, release := t.inner.Lock()
	ms := in.MemorySet
	in.MemorySet = nil
	children := in.Children
	in.Children = nil
	zombie := in.Status == TaskZombie
	release()

	if ms != nil {
		ms.Release()
	}
	for _, c := range children {
		c.DecRef()
	}
	if !zombie {
		t.k.alive.Add(-1)
	}
	t.k.removeKernelStack(t.kstack.ID())
	t.kstack.Release()
	t.pid.Release()
	log.Debugf("Destroyed task %d", t.pid.ID())
}
