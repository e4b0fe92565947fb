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

package hostarch

import "fmt"

// PhysAddr is a physical address. Only the low PAWidth bits are significant.
type PhysAddr uint64

// VirtAddr is a virtual address. Only the low VAWidth bits are stored; the
// full 64-bit form is the sign extension of bit VAWidth-1.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

const (
	paMask  = 1<<PAWidth - 1
	vaMask  = 1<<VAWidth - 1
	ppnMask = 1<<PPNWidth - 1
	vpnMask = 1<<VPNWidth - 1

	offsetMask = PageSize - 1
	indexMask  = EntriesPerPage - 1
)

// PhysAddrFrom masks v to a physical address.
func PhysAddrFrom(v uint64) PhysAddr {
	return PhysAddr(v & paMask)
}

// VirtAddrFrom masks v to a virtual address.
func VirtAddrFrom(v uint64) VirtAddr {
	return VirtAddr(v & vaMask)
}

// PhysPageNumFrom masks v to a physical page number.
func PhysPageNumFrom(v uint64) PhysPageNum {
	return PhysPageNum(v & ppnMask)
}

// VirtPageNumFrom masks v to a virtual page number.
func VirtPageNumFrom(v uint64) VirtPageNum {
	return VirtPageNum(v & vpnMask)
}

// Uint64 returns the raw physical address.
func (a PhysAddr) Uint64() uint64 { return uint64(a) }

// PageOffset returns the offset of a within its page.
func (a PhysAddr) PageOffset() uint64 { return uint64(a) & offsetMask }

// Aligned returns true if a is page aligned.
func (a PhysAddr) Aligned() bool { return a.PageOffset() == 0 }

// Floor returns the page containing a.
func (a PhysAddr) Floor() PhysPageNum { return PhysPageNum(uint64(a) >> PageShift) }

// Ceil returns the first page at or above a.
func (a PhysAddr) Ceil() PhysPageNum {
	return PhysPageNum((uint64(a) + PageSize - 1) >> PageShift)
}

// PageNum converts an aligned address to its page number. It panics if a is
// not aligned, since the offset would be silently lost.
func (a PhysAddr) PageNum() PhysPageNum {
	if !a.Aligned() {
		panic(fmt.Sprintf("physical address %#x is not page aligned", uint64(a)))
	}
	return a.Floor()
}

// String implements fmt.Stringer.String.
func (a PhysAddr) String() string { return fmt.Sprintf("PA:%#x", uint64(a)) }

// Uint64 returns the 64-bit form of a, sign extended from bit VAWidth-1.
func (a VirtAddr) Uint64() uint64 {
	if a&(1<<(VAWidth-1)) != 0 {
		return uint64(a) | ^uint64(vaMask)
	}
	return uint64(a)
}

// PageOffset returns the offset of a within its page.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & offsetMask }

// Aligned returns true if a is page aligned.
func (a VirtAddr) Aligned() bool { return a.PageOffset() == 0 }

// Floor returns the page containing a.
func (a VirtAddr) Floor() VirtPageNum { return VirtPageNum(uint64(a) >> PageShift) }

// Ceil returns the first page at or above a.
func (a VirtAddr) Ceil() VirtPageNum {
	if a == 0 {
		return 0
	}
	return VirtPageNum((uint64(a) - 1 + PageSize) >> PageShift)
}

// PageNum converts an aligned address to its page number. It panics if a is
// not aligned.
func (a VirtAddr) PageNum() VirtPageNum {
	if !a.Aligned() {
		panic(fmt.Sprintf("virtual address %#x is not page aligned", uint64(a)))
	}
	return a.Floor()
}

// Canonical returns true if v is a valid 64-bit Sv39 address, i.e. bits
// 63..VAWidth all equal bit VAWidth-1.
func Canonical(v uint64) bool {
	return VirtAddrFrom(v).Uint64() == v
}

// String implements fmt.Stringer.String.
func (a VirtAddr) String() string { return fmt.Sprintf("VA:%#x", uint64(a)) }

// Addr returns the address of the first byte of the page.
func (p PhysPageNum) Addr() PhysAddr { return PhysAddr(uint64(p) << PageShift) }

// String implements fmt.Stringer.String.
func (p PhysPageNum) String() string { return fmt.Sprintf("PPN:%#x", uint64(p)) }

// Addr returns the address of the first byte of the page.
func (p VirtPageNum) Addr() VirtAddr { return VirtAddr(uint64(p) << PageShift) }

// Indexes returns the per-level table indexes of p, outermost first.
func (p VirtPageNum) Indexes() [Levels]uint64 {
	var idx [Levels]uint64
	v := uint64(p)
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = v & indexMask
		v >>= IndexBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (p VirtPageNum) String() string { return fmt.Sprintf("VPN:%#x", uint64(p)) }

// VPNRange is the half-open range of virtual pages [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the pages covering [start, end): start is rounded down
// and end rounded up.
func NewVPNRange(start, end VirtAddr) VPNRange {
	r := VPNRange{Start: start.Floor(), End: end.Ceil()}
	if r.End < r.Start {
		panic(fmt.Sprintf("invalid range [%v, %v)", start, end))
	}
	return r
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 { return uint64(r.End - r.Start) }

// Contains returns true if p is in r.
func (r VPNRange) Contains(p VirtPageNum) bool { return r.Start <= p && p < r.End }

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End && r.Len() != 0 && o.Len() != 0
}

// ForEach calls fn for every page in r, in increasing order.
func (r VPNRange) ForEach(fn func(VirtPageNum)) {
	for p := r.Start; p < r.End; p++ {
		fn(p)
	}
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start.Addr()), uint64(r.End.Addr()))
}
