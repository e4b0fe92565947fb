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

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"

	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sync"
)

// textStride is the distance between entry points in a Text.
const textStride = 0x10

// Text is the kernel text: it maps code addresses, such as the RA of a
// TaskContext or the trap handler address in a TrapFrame, to the functions
// found there.
//
// A Text also switches between kernel contexts. Each context runs on its
// own goroutine, and exactly one of them runs at any time: Switch hands
// control to the next context and parks the current one.
type Text struct {
	base uint64

	mu    sync.Mutex
	funcs map[uint64]textEntry
	next  uint64

	// home is the context that receives panics from other contexts. It
	// is set by SetHome, and its coroutine is replaced on every Switch
	// away from it.
	home *TaskContext
}

type textEntry struct {
	name string
	fn   func()
}

// NewText returns an empty Text whose first entry point is at base.
func NewText(base uint64) *Text {
	return &Text{
		base:  base,
		funcs: make(map[uint64]textEntry),
		next:  base,
	}
}

// Register places fn in the text and returns its address.
func (t *Text) Register(name string, fn func()) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.next
	t.next += textStride
	t.funcs[addr] = textEntry{name: name, fn: fn}
	log.Debugf("Kernel text %#x: %s", addr, name)
	return addr
}

func (t *Text) lookup(addr uint64) textEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.funcs[addr]
	if !ok {
		panic(fmt.Sprintf("jump to %#x outside kernel text", addr))
	}
	return e
}

// Call calls the function at addr. An address that is not an entry point
// panics.
func (t *Text) Call(addr uint64) {
	t.lookup(addr).fn()
}

// Name returns the name of the entry point at addr.
func (t *Text) Name(addr uint64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.funcs[addr]; ok {
		return e.name
	}
	return fmt.Sprintf("%#x", addr)
}

// Symbols returns the entry points in address order, formatted like a
// symbol table.
func (t *Text) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]uint64, 0, len(t.funcs))
	for a := range t.funcs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	syms := make([]string, 0, len(addrs))
	for _, a := range addrs {
		syms = append(syms, fmt.Sprintf("%016x T %s", a, t.funcs[a].name))
	}
	return syms
}

// SetHome makes ctx the context that panics in other contexts are
// forwarded to. It is the context of the goroutine that first switches
// into a task, typically the scheduler's idle context, so that a kernel
// panic surfaces on the goroutine that started the kernel.
func (t *Text) SetHome(ctx *TaskContext) {
	t.home = ctx
}

// coroutine is a parked context.
type coroutine struct {
	// wake receives nil to resume, or a *Fault to panic.
	wake chan *Fault
}

// Fault is a panic raised in one context and re-raised in the home
// context.
type Fault struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the stack of the panicking context.
	Stack []byte
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("kernel panic: %v", f.Value)
}

// Unwrap returns the panic value if it is an error.
func (f *Fault) Unwrap() error {
	err, _ := f.Value.(error)
	return err
}

// Switch saves the current context in cur and resumes next. It returns
// when some other context switches back to cur.
//
// Precondition: cur is the running context.
func (t *Text) Switch(cur, next *TaskContext) {
	self := &coroutine{wake: make(chan *Fault, 1)}
	cur.co = self
	t.resume(next)
	if f := <-self.wake; f != nil {
		panic(f)
	}
}

// SwitchExit resumes next and discards the current context, which must
// not be the home context.
func (t *Text) SwitchExit(next *TaskContext) {
	t.resume(next)
	runtime.Goexit()
}

func (t *Text) resume(next *TaskContext) {
	if co := next.co; co != nil {
		next.co = nil
		co.wake <- nil
		return
	}
	e := t.lookup(next.RA)
	log.Debugf("Starting kernel context at %s, sp %#x", e.name, next.SP)
	go t.run(e.fn)
}

// run executes fn as a fresh context. fn never returns normally: it
// switches away for good with SwitchExit.
func (t *Text) run(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f, ok := r.(*Fault)
		if !ok {
			f = &Fault{Value: r, Stack: debug.Stack()}
		}
		t.fault(f)
	}()
	fn()
	t.fault(&Fault{Value: "kernel context returned"})
}

// fault delivers f to the home context, which is parked since exactly one
// context runs at a time.
func (t *Text) fault(f *Fault) {
	if t.home == nil || t.home.co == nil {
		panic(f)
	}
	co := t.home.co
	t.home.co = nil
	co.wake <- f
}
