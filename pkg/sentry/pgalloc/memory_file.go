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

package pgalloc

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"golang.org/x/sys/unix"
)

// Role is what a physical frame is currently used for. It gates which view
// of the frame's contents may be taken.
type Role uint8

const (
	// RoleFree frames are not handed out.
	RoleFree Role = iota

	// RoleData frames hold page contents: user data, stacks, trap
	// contexts.
	RoleData

	// RoleTable frames hold 512 page table entries.
	RoleTable
)

// String implements fmt.Stringer.String.
func (r Role) String() string {
	switch r {
	case RoleFree:
		return "free"
	case RoleData:
		return "data"
	case RoleTable:
		return "table"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MemoryFile is the physical memory of the machine between the end of the
// kernel image and the end of RAM, backed by one anonymous host mapping.
// Frames are addressed by physical page number.
type MemoryFile struct {
	// start and end bound the managed frames, [start, end).
	start hostarch.PhysPageNum
	end   hostarch.PhysPageNum

	// mapping is the host mapping of frame start at offset 0.
	mapping []byte

	// roles is indexed by ppn-start.
	roles []Role
}

// NewMemoryFile maps the physical range [start, end) rounded inwards to
// whole frames.
func NewMemoryFile(start, end hostarch.PhysAddr) (*MemoryFile, error) {
	first, last := start.Ceil(), end.Floor()
	if last <= first {
		return nil, fmt.Errorf("empty physical range [%v, %v)", start, end)
	}
	n := uint64(last - first)
	m, err := unix.Mmap(-1, 0, int(n*hostarch.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d frames: %w", n, err)
	}
	log.Infof("Physical memory: %d frames [%v, %v)", n, first.Addr(), last.Addr())
	return &MemoryFile{
		start:   first,
		end:     last,
		mapping: m,
		roles:   make([]Role, n),
	}, nil
}

// Destroy unmaps the backing memory. The MemoryFile must not be used
// afterwards.
func (f *MemoryFile) Destroy() error {
	if f.mapping == nil {
		return nil
	}
	err := unix.Munmap(f.mapping)
	f.mapping = nil
	return err
}

// Range returns the managed frames [start, end).
func (f *MemoryFile) Range() (start, end hostarch.PhysPageNum) {
	return f.start, f.end
}

// Contains returns true if ppn is backed by this file.
func (f *MemoryFile) Contains(ppn hostarch.PhysPageNum) bool {
	return f.start <= ppn && ppn < f.end
}

// Role returns the current role of ppn.
func (f *MemoryFile) Role(ppn hostarch.PhysPageNum) Role {
	f.check(ppn)
	return f.roles[ppn-f.start]
}

// SetRole changes the role of ppn.
func (f *MemoryFile) SetRole(ppn hostarch.PhysPageNum, r Role) {
	f.check(ppn)
	f.roles[ppn-f.start] = r
}

// Bytes returns the contents of a data frame.
func (f *MemoryFile) Bytes(ppn hostarch.PhysPageNum) []byte {
	return f.view(ppn, RoleData)
}

// Table returns the contents of a page table frame.
func (f *MemoryFile) Table(ppn hostarch.PhysPageNum) []byte {
	return f.view(ppn, RoleTable)
}

// Zero clears a frame whatever its role.
func (f *MemoryFile) Zero(ppn hostarch.PhysPageNum) {
	clear(f.frame(ppn))
}

// ReadPhys copies physical memory at pa into b. It is the bus used by the
// hart's page walker and load path, so it ignores roles.
func (f *MemoryFile) ReadPhys(pa hostarch.PhysAddr, b []byte) error {
	off, err := f.offset(pa, len(b))
	if err != nil {
		return err
	}
	copy(b, f.mapping[off:])
	return nil
}

// WritePhys copies b into physical memory at pa.
func (f *MemoryFile) WritePhys(pa hostarch.PhysAddr, b []byte) error {
	off, err := f.offset(pa, len(b))
	if err != nil {
		return err
	}
	copy(f.mapping[off:], b)
	return nil
}

func (f *MemoryFile) offset(pa hostarch.PhysAddr, n int) (uint64, error) {
	lo, hi := f.start.Addr(), f.end.Addr()
	if pa < lo || pa >= hi || uint64(hi-pa) < uint64(n) {
		return 0, fmt.Errorf("physical access [%#x, %#x) outside memory", uint64(pa), uint64(pa)+uint64(n))
	}
	return uint64(pa - lo), nil
}

func (f *MemoryFile) view(ppn hostarch.PhysPageNum, want Role) []byte {
	if got := f.Role(ppn); got != want {
		panic(fmt.Sprintf("%v viewed as %v but is a %v frame", ppn, want, got))
	}
	return f.frame(ppn)
}

func (f *MemoryFile) frame(ppn hostarch.PhysPageNum) []byte {
	f.check(ppn)
	off := uint64(ppn-f.start) * hostarch.PageSize
	return f.mapping[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

func (f *MemoryFile) check(ppn hostarch.PhysPageNum) {
	if !f.Contains(ppn) {
		panic(fmt.Sprintf("%v outside physical memory [%v, %v)", ppn, f.start, f.end))
	}
}
