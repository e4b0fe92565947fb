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

	"github.com/prototypeos/kernel/pkg/bitmap"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/sync"
)

// DefaultMaxTasks is the default capacity of the pid and kernel stack slot
// spaces.
const DefaultMaxTasks = 1024

// SlotAllocator hands out small integer identifiers, lowest first. It backs
// both pids and kernel stack positions.
type SlotAllocator struct {
	name string
	used sync.Exclusive[bitmap.Bitmap]
}

// NewSlotAllocator returns an allocator of the slots [0, capacity).
func NewSlotAllocator(name string, capacity uint32) *SlotAllocator {
	a := &SlotAllocator{name: name}
	a.used.Init(name+" slots", bitmap.New(capacity))
	return a
}

// Alloc returns a handle on the lowest free slot. It returns an error
// wrapping linuxerr.EAGAIN if every slot is in use.
func (a *SlotAllocator) Alloc() (*SlotHandle, error) {
	b, release := a.used.Lock()
	defer release()
	if b.Size() == 0 || b.GetNumOnes() == b.Size() {
		return nil, fmt.Errorf("all %d %s slots in use: %w", b.Size(), a.name, linuxerr.EAGAIN)
	}
	id, err := b.FirstZero(0)
	if err != nil {
		return nil, fmt.Errorf("%s slots: %v: %w", a.name, err, linuxerr.EAGAIN)
	}
	b.Add(id)
	return &SlotHandle{a: a, id: uint64(id)}, nil
}

// InUse returns the number of allocated slots.
func (a *SlotAllocator) InUse() uint32 {
	b, release := a.used.Lock()
	defer release()
	return b.GetNumOnes()
}

// Capacity returns the number of slots.
func (a *SlotAllocator) Capacity() uint32 {
	b, release := a.used.Lock()
	defer release()
	return b.Size()
}

func (a *SlotAllocator) free(id uint64) {
	b, release := a.used.Lock()
	defer release()
	if !b.Contains(uint32(id)) {
		panic(fmt.Sprintf("%s slot %d is not allocated", a.name, id))
	}
	b.Remove(uint32(id))
}

// SlotHandle owns one slot until Release.
type SlotHandle struct {
	a        *SlotAllocator
	id       uint64
	released bool
}

// ID returns the slot number.
func (h *SlotHandle) ID() uint64 {
	return h.id
}

// Release returns the slot to its allocator. Releasing a handle twice
// panics.
func (h *SlotHandle) Release() {
	if h.released {
		panic(fmt.Sprintf("%s slot %d released twice", h.a.name, h.id))
	}
	h.released = true
	h.a.free(h.id)
}
