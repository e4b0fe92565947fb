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

// Package mm implements address spaces: a page table plus the areas mapped
// into it.
//
// There are two kinds of MemorySet. The kernel's identity maps the kernel
// image and the rest of physical memory, and later gains one kernel stack
// area per task. Each task's maps its executable, its user stack and its
// trap context page. Every MemorySet maps the trampoline page at the same
// virtual address, onto the same frame.
package mm

import (
	"fmt"

	"github.com/google/btree"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
)

// MMU is the address translation hardware of a hart.
type MMU interface {
	// WriteSatp installs the given address translation root.
	WriteSatp(satp uint64)

	// SfenceVMA invalidates all cached translations.
	SfenceVMA()
}

// MemorySet is an address space.
type MemorySet struct {
	frames *pgalloc.Allocator
	pt     *pagetables.PageTables

	// areas are in insertion order.
	areas []*MapArea

	// index orders areas by first page, for overlap checks and lookups.
	index *btree.BTreeG[*MapArea]
}

func areaLess(a, b *MapArea) bool {
	return a.Range.Start < b.Range.Start
}

// New returns an empty address space.
func New(frames *pgalloc.Allocator) (*MemorySet, error) {
	pt, err := pagetables.New(pagetables.NewFrameAllocator(frames))
	if err != nil {
		return nil, err
	}
	return &MemorySet{
		frames: frames,
		pt:     pt,
		index:  btree.NewG(8, areaLess),
	}, nil
}

// Token returns the satp value activating this address space.
func (ms *MemorySet) Token() uint64 {
	return ms.pt.Token()
}

// RootPPN returns the frame holding the root page table node.
func (ms *MemorySet) RootPPN() hostarch.PhysPageNum {
	return ms.pt.Root()
}

// PageTables returns the page table of this address space.
func (ms *MemorySet) PageTables() *pagetables.PageTables {
	return ms.pt
}

// Translate returns the leaf entry mapping vpn.
func (ms *MemorySet) Translate(vpn hostarch.VirtPageNum) (pagetables.PTE, bool) {
	return ms.pt.Translate(vpn)
}

// Areas returns the areas in insertion order. The slice must not be
// modified.
func (ms *MemorySet) Areas() []*MapArea {
	return ms.areas
}

// overlapping returns an inserted area sharing a page with r, if any.
func (ms *MemorySet) overlapping(r hostarch.VPNRange) *MapArea {
	var found *MapArea
	// Only the last area starting before r.End can overlap r.
	ms.index.DescendLessOrEqual(&MapArea{Range: hostarch.VPNRange{Start: r.End - 1}}, func(a *MapArea) bool {
		if a.Range.Overlaps(r) {
			found = a
		}
		return false
	})
	return found
}

// InsertArea maps every page of area and then, for Framed areas, copies
// data into it. Pages not covered by data read as zero.
//
// Precondition: area must not overlap an inserted area, and must not be
// empty; violations panic. Only Framed areas take data. The only error is
// running out of frames, in which case nothing is left mapped.
func (ms *MemorySet) InsertArea(area *MapArea, data []byte) error {
	if area.Range.Len() == 0 {
		panic(fmt.Sprintf("inserting empty area %v", area))
	}
	if other := ms.overlapping(area.Range); other != nil {
		panic(fmt.Sprintf("area %v overlaps %v", area, other))
	}
	if data != nil && area.Type != Framed {
		panic(fmt.Sprintf("initial data for %v area %v", area.Type, area))
	}
	if err := area.mapAll(ms.pt, ms.frames); err != nil {
		return err
	}
	if data != nil {
		area.copyData(ms.pt, ms.frames.MemoryFile(), data)
	}
	ms.areas = append(ms.areas, area)
	ms.index.ReplaceOrInsert(area)
	return nil
}

// InsertFramedArea maps [start, end) to fresh zeroed frames.
func (ms *MemorySet) InsertFramedArea(start, end hostarch.VirtAddr, perm MapPermission) error {
	return ms.InsertArea(NewMapArea(start, end, Framed, perm), nil)
}

// RemoveAreaWithStartVPN unmaps the area starting at vpn and releases its
// frames. It returns false if there is no such area.
func (ms *MemorySet) RemoveAreaWithStartVPN(vpn hostarch.VirtPageNum) bool {
	area, ok := ms.index.Delete(&MapArea{Range: hostarch.VPNRange{Start: vpn}})
	if !ok {
		return false
	}
	area.unmapAll(ms.pt)
	for i, a := range ms.areas {
		if a == area {
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			break
		}
	}
	return true
}

// mapTrampoline maps the trampoline page onto the shared trampoline frame.
// It is not an area: the frame belongs to the kernel image.
func (ms *MemorySet) mapTrampoline(ppn hostarch.PhysPageNum) error {
	return ms.pt.Map(hostarch.Trampoline.Floor(), ppn, pagetables.Readable|pagetables.Executable)
}

// Activate makes this the active address space of mmu.
func (ms *MemorySet) Activate(mmu MMU) {
	mmu.WriteSatp(ms.Token())
	mmu.SfenceVMA()
}

// Release frees every frame owned by the address space: area frames and
// page table nodes. The MemorySet must not be used afterwards.
func (ms *MemorySet) Release() {
	for _, a := range ms.areas {
		a.releaseFrames()
	}
	ms.areas = nil
	ms.index.Clear(false)
	ms.pt.Release()
}
