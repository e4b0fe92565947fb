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
	"errors"
	"fmt"

	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/refs"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/platform"
)

// IdlePolicy says what the scheduler does when the ready queue is empty.
type IdlePolicy string

const (
	// IdleShutdown returns from RunTasks: successfully if every task has
	// exited, with ErrDeadlock otherwise.
	IdleShutdown IdlePolicy = "shutdown"

	// IdlePanic treats an empty ready queue as a fatal error.
	IdlePanic IdlePolicy = "panic"
)

// ErrDeadlock is returned by RunTasks when tasks are alive but none is
// ready to run.
var ErrDeadlock = fmt.Errorf("live tasks but none ready: %w", linuxerr.EDEADLK)

// RunTasks is the scheduler loop. It dispatches the task at the front of
// the ready queue until the queue is empty, then applies the idle policy.
//
// RunTasks must be called from one goroutine at a time. A kernel panic in
// any task context is re-raised here.
//
// If the hart's budget runs out, the running task is killed with exit code
// -1 and the budget error is returned. Other tasks stay queued, and a later
// call continues them.
func (k *Kernel) RunTasks() (err error) {
	k.text.SetHome(&k.proc.idle)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*arch.Fault); ok && errors.Is(f, platform.ErrBudgetExhausted) {
			// The task's context ended with the fault.
			if t := k.proc.TakeCurrentTask(); t != nil {
				log.Warningf("Task %d stopped: %v", t.PID(), f.Unwrap())
				k.exitTask(t, -1)
			}
			err = f.Unwrap()
			return
		}
		panic(r)
	}()

	for {
		t := k.FetchTask()
		if t == nil {
			return k.idle()
		}
		in, release := t.InnerExclusiveAccess()
		in.Status = TaskRunning
		next := &in.Context
		release()

		k.proc.setCurrent(t)
		if k.OnDispatch != nil {
			k.OnDispatch(t, k.ReadyLen())
		}
		k.stats.switches.Increment()
		log.Debugf("Dispatching task %d, %d ready", t.PID(), k.ReadyLen())
		k.text.Switch(&k.proc.idle, next)
	}
}

func (k *Kernel) idle() error {
	alive := k.alive.Load()
	if k.idlePolicy == IdlePanic {
		panic(fmt.Sprintf("no ready task, %d alive", alive))
	}
	if alive != 0 {
		return fmt.Errorf("%d tasks: %w", alive, ErrDeadlock)
	}
	log.Infof("All tasks completed")
	return nil
}

// SuspendCurrentAndRunNext moves the running task to the back of the ready
// queue and switches to the scheduler. It returns when the task is
// dispatched again.
func (k *Kernel) SuspendCurrentAndRunNext() {
	t := k.proc.TakeCurrentTask()
	if t == nil {
		panic("suspend with no current task")
	}
	in, release := t.InnerExclusiveAccess()
	in.Status = TaskReady
	cur := &in.Context
	release()

	k.AddTask(t)
	k.text.Switch(cur, &k.proc.idle)
}

// ExitCurrentAndRunNext makes the running task a zombie with the given
// exit code and switches to the scheduler for good. It never returns.
//
// The task's address space is released at once. Its live children are
// handed to the init task, and its zombie children, which nothing can wait
// for any longer, are released.
func (k *Kernel) ExitCurrentAndRunNext(code int32) {
	t := k.proc.TakeCurrentTask()
	if t == nil {
		panic("exit with no current task")
	}
	k.exitTask(t, code)
	k.text.SwitchExit(&k.proc.idle)
}

// exitTask makes t, which is no longer current, a zombie and drops the
// processor's reference on it.
func (k *Kernel) exitTask(t *Task, code int32) {
	in, release := t.InnerExclusiveAccess()
	in.Status = TaskZombie
	in.ExitCode = code
	ms := in.MemorySet
	in.MemorySet = nil
	children := in.Children
	in.Children = nil
	release()

	k.alive.Add(-1)
	log.Infof("Task %d exited with code %d", t.PID(), code)
	if ms != nil {
		ms.Release()
	}

	initTask := k.initTask.Get()
	if initTask == t {
		initTask.DecRef()
		initTask = nil
	}
	for _, c := range children {
		k.reparent(c, initTask)
	}
	if initTask != nil {
		initTask.DecRef()
	}

	t.DecRef()
}

// reparent hands child, and the reference to it, to init. Zombies and
// children of an exiting init are released instead.
func (k *Kernel) reparent(child, initTask *Task) {
	in, release := child.InnerExclusiveAccess()
	if initTask == nil || in.Status == TaskZombie {
		in.Parent = refs.WeakRef[Task]{}
		release()
		child.DecRef()
		return
	}
	in.Parent = refs.NewWeakRef(initTask)
	release()
	initTask.inner.With(func(in *taskInner) {
		in.Children = append(in.Children, child)
	})
	log.Debugf("Task %d reparented to %d", child.PID(), initTask.PID())
}
