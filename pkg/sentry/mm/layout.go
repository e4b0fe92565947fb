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

package mm

import (
	"debug/elf"
	"fmt"

	"github.com/prototypeos/kernel/pkg/cleanup"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/loader"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
)

// Layout is the physical placement of the kernel image, as a linker script
// would describe it. Sections are [start, end) pairs.
type Layout struct {
	Text   [2]hostarch.PhysAddr
	Rodata [2]hostarch.PhysAddr
	Data   [2]hostarch.PhysAddr
	BSS    [2]hostarch.PhysAddr

	// KernelEnd is the first address past the kernel image. Frames are
	// allocated from [KernelEnd, MemoryEnd).
	KernelEnd hostarch.PhysAddr

	// MemoryEnd is the end of RAM.
	MemoryEnd hostarch.PhysAddr

	// TrampolinePPN is the frame holding the trap entry and exit code. It
	// is part of the kernel text.
	TrampolinePPN hostarch.PhysPageNum
}

// DefaultLayout is the layout of a kernel loaded at 0x80200000 on a machine
// with 128MB of RAM.
var DefaultLayout = Layout{
	Text:          [2]hostarch.PhysAddr{0x80200000, 0x80220000},
	Rodata:        [2]hostarch.PhysAddr{0x80220000, 0x80230000},
	Data:          [2]hostarch.PhysAddr{0x80230000, 0x80240000},
	BSS:           [2]hostarch.PhysAddr{0x80240000, 0x80280000},
	KernelEnd:     0x80280000,
	MemoryEnd:     0x88000000,
	TrampolinePPN: 0x80201,
}

// Validate checks that the sections are ordered, do not overlap, and end
// before the frame pool starts.
func (l *Layout) Validate() error {
	secs := []struct {
		name string
		r    [2]hostarch.PhysAddr
	}{{"text", l.Text}, {"rodata", l.Rodata}, {"data", l.Data}, {"bss", l.BSS}}
	var prev hostarch.PhysAddr
	for _, s := range secs {
		if s.r[1] < s.r[0] {
			return fmt.Errorf("section %s ends before it starts: [%v, %v)", s.name, s.r[0], s.r[1])
		}
		if s.r[0] < prev {
			return fmt.Errorf("section %s at %v overlaps the previous section", s.name, s.r[0])
		}
		prev = s.r[1]
	}
	if l.KernelEnd < prev {
		return fmt.Errorf("kernel end %v is inside the kernel image", l.KernelEnd)
	}
	if l.MemoryEnd.Floor() <= l.KernelEnd.Ceil() {
		return fmt.Errorf("no memory between kernel end %v and memory end %v", l.KernelEnd, l.MemoryEnd)
	}
	if l.MemoryEnd.Uint64() > 1<<(hostarch.VAWidth-1) {
		return fmt.Errorf("memory end %v cannot be identity mapped", l.MemoryEnd)
	}
	if tp := l.TrampolinePPN.Addr(); tp < l.Text[0] || tp >= l.Text[1] {
		return fmt.Errorf("trampoline %v is outside the kernel text", tp)
	}
	return nil
}

func identity(pa hostarch.PhysAddr) hostarch.VirtAddr {
	return hostarch.VirtAddr(pa)
}

// NewKernel builds the kernel address space: the trampoline, each section
// of the kernel image with its own permissions, and the remaining physical
// memory, all identity mapped.
func NewKernel(frames *pgalloc.Allocator, l *Layout) (*MemorySet, error) {
	ms, err := New(frames)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(ms.Release)
	defer cu.Clean()

	if err := ms.mapTrampoline(l.TrampolinePPN); err != nil {
		return nil, err
	}
	areas := []struct {
		name       string
		start, end hostarch.PhysAddr
		perm       MapPermission
	}{
		{".text", l.Text[0], l.Text[1], PermR | PermX},
		{".rodata", l.Rodata[0], l.Rodata[1], PermR},
		{".data", l.Data[0], l.Data[1], PermR | PermW},
		{".bss", l.BSS[0], l.BSS[1], PermR | PermW},
		{"physical memory", l.KernelEnd, l.MemoryEnd, PermR | PermW},
	}
	for _, a := range areas {
		log.Infof("Mapping %s [%v, %v) %v", a.name, a.start, a.end, a.perm)
		area := NewMapArea(identity(a.start), identity(a.end), Identical, a.perm).Named(a.name)
		if area.Range.Len() == 0 {
			continue
		}
		if err := ms.InsertArea(area, nil); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", a.name, err)
		}
	}
	cu.Release()
	return ms, nil
}

func segmentPerm(f elf.ProgFlag) MapPermission {
	perm := PermU
	if f&elf.PF_R != 0 {
		perm |= PermR
	}
	if f&elf.PF_W != 0 {
		perm |= PermW
	}
	if f&elf.PF_X != 0 {
		perm |= PermX
	}
	return perm
}

// NewTask builds a user address space from an executable image: its
// loadable segments, a user stack one guard page above the highest
// segment, the trap context page and the trampoline. It returns the
// address space, the initial user stack pointer and the entry point.
//
// Malformed or overlapping images return an error wrapping
// linuxerr.ENOEXEC; running out of frames returns pgalloc.ErrOutOfFrames.
func NewTask(frames *pgalloc.Allocator, l *Layout, b []byte) (*MemorySet, hostarch.VirtAddr, hostarch.VirtAddr, error) {
	img, err := loader.Parse(b)
	if err != nil {
		return nil, 0, 0, err
	}
	ms, err := New(frames)
	if err != nil {
		return nil, 0, 0, err
	}
	cu := cleanup.Make(ms.Release)
	defer cu.Clean()

	if err := ms.mapTrampoline(l.TrampolinePPN); err != nil {
		return nil, 0, 0, err
	}
	var maxEnd hostarch.VirtPageNum
	for i, seg := range img.Segments {
		if seg.MemSize == 0 {
			continue
		}
		area := NewMapArea(seg.VAddr, seg.End(), Framed, segmentPerm(seg.Flags)).Named(fmt.Sprintf("segment %d", i))
		if other := ms.overlapping(area.Range); other != nil {
			return nil, 0, 0, fmt.Errorf("segment %d %v overlaps %v: %w", i, area.Range, other, linuxerr.ENOEXEC)
		}
		if err := ms.InsertArea(area, seg.Data); err != nil {
			return nil, 0, 0, err
		}
		maxEnd = max(maxEnd, area.Range.End)
	}

	stackBottom := maxEnd.Addr() + hostarch.PageSize
	stackTop := stackBottom + hostarch.UserStackSize
	if stackTop > hostarch.TrapContext {
		return nil, 0, 0, fmt.Errorf("no room for the user stack above %v: %w", maxEnd.Addr(), linuxerr.ENOEXEC)
	}
	if err := ms.InsertArea(NewMapArea(stackBottom, stackTop, Framed, PermR|PermW|PermU).Named("user stack"), nil); err != nil {
		return nil, 0, 0, err
	}
	if err := ms.InsertArea(NewMapArea(hostarch.TrapContext, hostarch.Trampoline, Framed, PermR|PermW).Named("trap context"), nil); err != nil {
		return nil, 0, 0, err
	}
	cu.Release()
	return ms, stackTop, img.Entry, nil
}
