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

package sync

import (
	"fmt"
	"sync"
)

// Exclusive guards a value that only one holder may access at a time.
//
// The kernel runs a single logical thread of control, so contention on an
// Exclusive is never legitimate: Lock never waits. A second acquisition
// while the first is still held is a usage bug and panics with the name of
// the cell.
//
// Holders must release before handing the CPU to another context.
type Exclusive[T any] struct {
	name string
	mu   sync.Mutex
	v    T
}

// NewExclusive returns a cell holding v.
func NewExclusive[T any](name string, v T) *Exclusive[T] {
	return &Exclusive[T]{name: name, v: v}
}

// Init sets the cell's name and value. It must be called before first use
// of a zero Exclusive.
func (e *Exclusive[T]) Init(name string, v T) {
	e.name = name
	e.v = v
}

// Lock returns the guarded value together with its release function.
func (e *Exclusive[T]) Lock() (*T, func()) {
	if !e.mu.TryLock() {
		panic(fmt.Sprintf("%s: already borrowed", e.name))
	}
	return &e.v, e.mu.Unlock
}

// With calls fn with exclusive access to the value.
func (e *Exclusive[T]) With(fn func(v *T)) {
	v, release := e.Lock()
	defer release()
	fn(v)
}

// Held returns true if the cell is currently borrowed.
func (e *Exclusive[T]) Held() bool {
	if e.mu.TryLock() {
		e.mu.Unlock()
		return false
	}
	return true
}
