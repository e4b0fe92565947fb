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
	"fmt"
	"strings"

	"github.com/prototypeos/kernel/pkg/cleanup"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
)

// MapType is how an area's pages are backed.
type MapType uint8

const (
	// Identical areas map each virtual page to the physical page with the
	// same number.
	Identical MapType = iota

	// Framed areas get a fresh frame for every page.
	Framed
)

// String implements fmt.Stringer.String.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "identical"
	case Framed:
		return "framed"
	default:
		return fmt.Sprintf("MapType(%d)", uint8(t))
	}
}

// MapPermission is the subset of PTE flags an area may carry. The values
// equal the corresponding pagetables flags.
type MapPermission uint8

// Permissions.
const (
	PermR MapPermission = MapPermission(pagetables.Readable)
	PermW MapPermission = MapPermission(pagetables.Writable)
	PermX MapPermission = MapPermission(pagetables.Executable)
	PermU MapPermission = MapPermission(pagetables.User)
)

// String renders the permission like "rwxu", with '-' for clear bits.
func (p MapPermission) String() string {
	var b strings.Builder
	for _, c := range []struct {
		bit  MapPermission
		name byte
	}{{PermR, 'r'}, {PermW, 'w'}, {PermX, 'x'}, {PermU, 'u'}} {
		if p&c.bit != 0 {
			b.WriteByte(c.name)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (p MapPermission) flags() pagetables.PTEFlags {
	return pagetables.PTEFlags(p)
}

// MapArea is a contiguous range of virtual pages mapped with one type and
// one permission.
type MapArea struct {
	// Range is the set of pages covered.
	Range hostarch.VPNRange

	// Type is the backing type.
	Type MapType

	// Perm is the permission of every page.
	Perm MapPermission

	// Name is a hint shown in listings.
	Name string

	// start is the address the area was created with. Initial data is
	// copied starting at its page offset.
	start hostarch.VirtAddr

	// frames holds the frame of every mapped page of a Framed area.
	frames map[hostarch.VirtPageNum]*pgalloc.Frame
}

// NewMapArea returns an unmapped area covering the pages of [start, end).
func NewMapArea(start, end hostarch.VirtAddr, t MapType, perm MapPermission) *MapArea {
	a := &MapArea{
		Range: hostarch.NewVPNRange(start, end),
		Type:  t,
		Perm:  perm,
		start: start,
	}
	if t == Framed {
		a.frames = make(map[hostarch.VirtPageNum]*pgalloc.Frame)
	}
	return a
}

// Named sets the area's hint and returns it.
func (a *MapArea) Named(name string) *MapArea {
	a.Name = name
	return a
}

// String implements fmt.Stringer.String.
func (a *MapArea) String() string {
	return fmt.Sprintf("%v %v %v %s", a.Range, a.Perm, a.Type, a.Name)
}

func (a *MapArea) mapOne(pt *pagetables.PageTables, frames *pgalloc.Allocator, vpn hostarch.VirtPageNum) error {
	var ppn hostarch.PhysPageNum
	switch a.Type {
	case Identical:
		ppn = hostarch.PhysPageNum(vpn)
	case Framed:
		f, err := frames.AllocFrame(pgalloc.RoleData)
		if err != nil {
			return err
		}
		if err := pt.Map(vpn, f.PPN(), a.Perm.flags()); err != nil {
			f.Release()
			return err
		}
		a.frames[vpn] = f
		return nil
	}
	return pt.Map(vpn, ppn, a.Perm.flags())
}

func (a *MapArea) unmapOne(pt *pagetables.PageTables, vpn hostarch.VirtPageNum) {
	if a.Type == Framed {
		a.frames[vpn].Release()
		delete(a.frames, vpn)
	}
	pt.Unmap(vpn)
}

// mapAll maps every page of the area. On failure the pages mapped so far
// are unmapped again.
func (a *MapArea) mapAll(pt *pagetables.PageTables, frames *pgalloc.Allocator) error {
	var mapped []hostarch.VirtPageNum
	cu := cleanup.Make(func() {
		for _, vpn := range mapped {
			a.unmapOne(pt, vpn)
		}
	})
	defer cu.Clean()
	for vpn := a.Range.Start; vpn < a.Range.End; vpn++ {
		if err := a.mapOne(pt, frames, vpn); err != nil {
			return fmt.Errorf("mapping %v of %v: %w", vpn, a.Range, err)
		}
		mapped = append(mapped, vpn)
	}
	cu.Release()
	return nil
}

func (a *MapArea) unmapAll(pt *pagetables.PageTables) {
	a.Range.ForEach(func(vpn hostarch.VirtPageNum) {
		a.unmapOne(pt, vpn)
	})
}

// releaseFrames returns every frame without touching the page table.
func (a *MapArea) releaseFrames() {
	for vpn, f := range a.frames {
		f.Release()
		delete(a.frames, vpn)
	}
}

// copyData copies data into the area starting at the page offset the area
// was created with, and zeroes the rest of every page it touches.
//
// Precondition: the area is mapped.
func (a *MapArea) copyData(pt *pagetables.PageTables, mf *pgalloc.MemoryFile, data []byte) {
	off := a.start.PageOffset()
	if uint64(len(data)) > a.Range.Len()*hostarch.PageSize-off {
		panic(fmt.Sprintf("%d bytes of data do not fit in %v at offset %#x", len(data), a.Range, off))
	}
	for vpn := a.Range.Start; len(data) > 0; vpn++ {
		dst := mf.Bytes(pt.TranslatePPN(vpn))
		clear(dst[:off])
		n := copy(dst[off:], data)
		clear(dst[off+uint64(n):])
		data = data[n:]
		off = 0
	}
}
