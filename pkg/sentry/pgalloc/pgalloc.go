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

// Package pgalloc contains the physical frame allocator.
//
// Frames are handed out from a bounded range of physical page numbers. Each
// frame is zeroed before it is returned, and freed frames are reused last in
// first out. There is no coalescing: the free list is a flat stack.
package pgalloc

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/bitmap"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sync"
)

// ErrOutOfFrames is returned when no frame is available.
var ErrOutOfFrames = fmt.Errorf("out of physical frames: %w", linuxerr.ENOMEM)

// stack is the allocator state.
type stack struct {
	initialized bool

	// start is the first managed frame; current is the next never-used
	// frame; end bounds the range.
	start   hostarch.PhysPageNum
	current hostarch.PhysPageNum
	end     hostarch.PhysPageNum

	// recycled holds freed frames. inRecycled mirrors it, indexed by
	// ppn-start, for the double free check.
	recycled   []hostarch.PhysPageNum
	inRecycled bitmap.Bitmap
}

// Allocator is a stack frame allocator over a MemoryFile.
type Allocator struct {
	mf    *MemoryFile
	state sync.Exclusive[stack]
}

// NewAllocator returns an allocator over mf. Init must be called before the
// first allocation.
func NewAllocator(mf *MemoryFile) *Allocator {
	a := &Allocator{mf: mf}
	a.state.Init("frame allocator", stack{})
	return a
}

// MemoryFile returns the memory frames are allocated from.
func (a *Allocator) MemoryFile() *MemoryFile {
	return a.mf
}

// Init sets the allocatable range [start, end). It may be called only once.
func (a *Allocator) Init(start, end hostarch.PhysPageNum) {
	s, release := a.state.Lock()
	defer release()
	if s.initialized {
		panic("frame allocator initialized twice")
	}
	if end < start || !a.mf.Contains(start) || (end > start && !a.mf.Contains(end-1)) {
		panic(fmt.Sprintf("frame range [%v, %v) not backed by physical memory", start, end))
	}
	*s = stack{
		initialized: true,
		start:       start,
		current:     start,
		end:         end,
		inRecycled:  bitmap.New(uint32(end - start)),
	}
}

// Alloc returns a zeroed frame, or false if none is left.
func (a *Allocator) Alloc() (hostarch.PhysPageNum, bool) {
	s, release := a.state.Lock()
	if !s.initialized {
		release()
		panic("frame allocator used before Init")
	}
	var ppn hostarch.PhysPageNum
	if n := len(s.recycled); n > 0 {
		ppn = s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
		s.inRecycled.Remove(uint32(ppn - s.start))
	} else if s.current < s.end {
		ppn = s.current
		s.current++
	} else {
		release()
		return 0, false
	}
	release()
	a.mf.Zero(ppn)
	return ppn, true
}

// Dealloc returns ppn to the allocator. Freeing a frame that was never
// handed out, or freeing it twice, panics.
func (a *Allocator) Dealloc(ppn hostarch.PhysPageNum) {
	s, release := a.state.Lock()
	defer release()
	if ppn < s.start || ppn >= s.current {
		panic(fmt.Sprintf("frame %v has not been allocated", ppn))
	}
	if s.inRecycled.Contains(uint32(ppn - s.start)) {
		panic(fmt.Sprintf("frame %v freed twice", ppn))
	}
	s.recycled = append(s.recycled, ppn)
	s.inRecycled.Add(uint32(ppn - s.start))
}

// Used returns the number of frames currently handed out.
func (a *Allocator) Used() uint64 {
	s, release := a.state.Lock()
	defer release()
	return uint64(s.current-s.start) - uint64(len(s.recycled))
}

// Free returns the number of frames that can still be allocated.
func (a *Allocator) Free() uint64 {
	s, release := a.state.Lock()
	defer release()
	return uint64(s.end-s.current) + uint64(len(s.recycled))
}

// Frame tracks ownership of one allocated frame. The owner releases it
// exactly once.
type Frame struct {
	ppn      hostarch.PhysPageNum
	a        *Allocator
	released bool
}

// AllocFrame allocates a zeroed frame and marks it with role.
func (a *Allocator) AllocFrame(role Role) (*Frame, error) {
	ppn, ok := a.Alloc()
	if !ok {
		return nil, ErrOutOfFrames
	}
	a.mf.SetRole(ppn, role)
	return &Frame{ppn: ppn, a: a}, nil
}

// PPN returns the frame's physical page number.
func (f *Frame) PPN() hostarch.PhysPageNum {
	return f.ppn
}

// Bytes returns the contents of a data frame.
func (f *Frame) Bytes() []byte {
	return f.a.mf.Bytes(f.ppn)
}

// Release returns the frame to its allocator.
func (f *Frame) Release() {
	if f.released {
		panic(fmt.Sprintf("frame %v released twice", f.ppn))
	}
	f.released = true
	f.a.mf.SetRole(f.ppn, RoleFree)
	f.a.Dealloc(f.ppn)
}
