// Copyright 2019 The gVisor Authors.
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

package pagetables

import (
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
)

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new, zeroed node and its physical page number.
	NewPTEs() (hostarch.PhysPageNum, error)

	// LookupPTEs returns the node stored in ppn.
	LookupPTEs(ppn hostarch.PhysPageNum) PTEs

	// FreePTEs frees the node stored in ppn.
	FreePTEs(ppn hostarch.PhysPageNum)
}

// FrameAllocator allocates nodes from physical frames.
type FrameAllocator struct {
	frames *pgalloc.Allocator
}

// NewFrameAllocator returns an allocator drawing nodes from frames.
func NewFrameAllocator(frames *pgalloc.Allocator) *FrameAllocator {
	return &FrameAllocator{frames: frames}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *FrameAllocator) NewPTEs() (hostarch.PhysPageNum, error) {
	ppn, ok := a.frames.Alloc()
	if !ok {
		return 0, pgalloc.ErrOutOfFrames
	}
	a.frames.MemoryFile().SetRole(ppn, pgalloc.RoleTable)
	return ppn, nil
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *FrameAllocator) LookupPTEs(ppn hostarch.PhysPageNum) PTEs {
	return NewPTEs(a.frames.MemoryFile().Table(ppn))
}

// FreePTEs implements Allocator.FreePTEs.
func (a *FrameAllocator) FreePTEs(ppn hostarch.PhysPageNum) {
	a.frames.MemoryFile().SetRole(ppn, pgalloc.RoleFree)
	a.frames.Dealloc(ppn)
}
