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

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sync"
)

// TaskManager is the FIFO queue of Ready tasks. Each queued task holds a
// reference.
type TaskManager struct {
	ready sync.Exclusive[[]*Task]
}

func (m *TaskManager) init() {
	m.ready.Init("ready queue", nil)
}

// AddTask appends t to the queue, taking over the caller's reference.
func (m *TaskManager) AddTask(t *Task) {
	m.ready.With(func(q *[]*Task) {
		*q = append(*q, t)
	})
}

// FetchTask removes and returns the task at the front of the queue, with
// its reference, or nil if the queue is empty.
func (m *TaskManager) FetchTask() *Task {
	q, release := m.ready.Lock()
	defer release()
	if len(*q) == 0 {
		return nil
	}
	t := (*q)[0]
	(*q)[0] = nil
	*q = (*q)[1:]
	return t
}

// ReadyLen returns the number of queued tasks.
func (m *TaskManager) ReadyLen() int {
	q, release := m.ready.Lock()
	defer release()
	return len(*q)
}

// Processor is the state of the single hart: the running task, and the
// idle context the scheduler loop runs in.
type Processor struct {
	// idle is saved whenever the scheduler switches to a task and resumed
	// whenever a task gives up the hart.
	idle arch.TaskContext

	state sync.Exclusive[processorState]
}

type processorState struct {
	// current holds a reference.
	current *Task
}

func (p *Processor) init() {
	p.state.Init("processor", processorState{})
}

func (p *Processor) setCurrent(t *Task) {
	p.state.With(func(s *processorState) {
		if s.current != nil {
			panic(fmt.Sprintf("dispatching task %d over running task %d", t.PID(), s.current.PID()))
		}
		s.current = t
	})
}

// current returns the running task without taking a reference. It panics
// if no task is running.
func (p *Processor) current() *Task {
	s, release := p.state.Lock()
	defer release()
	if s.current == nil {
		panic("no current task")
	}
	return s.current
}

// CurrentTask returns the running task with a new reference, or nil.
func (p *Processor) CurrentTask() *Task {
	s, release := p.state.Lock()
	defer release()
	if s.current != nil {
		s.current.IncRef()
	}
	return s.current
}

// TakeCurrentTask clears the running task and returns it with the
// processor's reference, or nil if there was none.
func (p *Processor) TakeCurrentTask() *Task {
	s, release := p.state.Lock()
	defer release()
	t := s.current
	s.current = nil
	return t
}

// CurrentUserToken returns the satp value of the running task's address
// space.
func (p *Processor) CurrentUserToken() uint64 {
	return p.current().UserToken()
}

// CurrentTaskTokenPPN returns the root page table frame of the running
// task's address space, the PPN field of CurrentUserToken.
func (p *Processor) CurrentTaskTokenPPN() hostarch.PhysPageNum {
	in, release := p.current().InnerExclusiveAccess()
	defer release()
	return in.MemorySet.RootPPN()
}

// CurrentTrapFrame returns a copy of the running task's trap frame.
func (p *Processor) CurrentTrapFrame() *arch.TrapFrame {
	return p.current().TrapFrame()
}
