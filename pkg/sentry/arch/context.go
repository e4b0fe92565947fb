// Copyright 2018 Google Inc.
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

package arch

// TaskContext is the kernel state preserved across a context switch: the
// return address, the kernel stack pointer and the callee-saved registers.
//
// A TaskContext that has never been switched away from starts executing at
// RA. One that has been switched away from resumes where it stopped.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64

	// co is the parked execution of this context, or nil if it has not run
	// yet.
	co *coroutine
}

// GotoTrapReturn returns the context of a task that has not run yet: it
// starts at trapReturn on the kernel stack whose top is kstackTop.
func GotoTrapReturn(trapReturn, kstackTop uint64) TaskContext {
	return TaskContext{RA: trapReturn, SP: kstackTop}
}

// Started returns true if the context has been switched away from and can
// be resumed.
func (c *TaskContext) Started() bool {
	return c.co != nil
}
