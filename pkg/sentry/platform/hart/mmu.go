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

package hart

import (
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
)

// tlbSize is the number of translations cached before the TLB is flushed.
const tlbSize = 64

// tlbEntry is a cached leaf.
type tlbEntry struct {
	pte pagetables.PTE

	// span is the number of pages the leaf maps: 1 for a page, more for
	// a superpage.
	span uint64
}

// pa returns the physical address of the page vpn within the leaf.
func (e tlbEntry) pa(vpn hostarch.VirtPageNum) hostarch.PhysAddr {
	return (e.pte.PPN() + hostarch.PhysPageNum(uint64(vpn)&(e.span-1))).Addr()
}

type tlb struct {
	entries map[hostarch.VirtPageNum]tlbEntry
}

func newTLB() tlb {
	return tlb{entries: make(map[hostarch.VirtPageNum]tlbEntry, tlbSize)}
}

func (t *tlb) flush() {
	clear(t.entries)
}

func (t *tlb) lookup(vpn hostarch.VirtPageNum) (tlbEntry, bool) {
	e, ok := t.entries[vpn]
	return e, ok
}

func (t *tlb) insert(vpn hostarch.VirtPageNum, e tlbEntry) {
	if len(t.entries) >= tlbSize {
		t.flush()
	}
	t.entries[vpn] = e
}

// faultFor returns the page fault and access fault causes for an access.
func faultFor(access pagetables.PTEFlags) (pageFault, busFault arch.Cause) {
	switch access {
	case pagetables.Executable:
		return arch.CauseInstructionPageFault, arch.CauseInstructionFault
	case pagetables.Writable:
		return arch.CauseStorePageFault, arch.CauseStoreFault
	default:
		return arch.CauseLoadPageFault, arch.CauseLoadFault
	}
}

// permits returns true if pte allows access at the given privilege.
// Supervisor accesses to user pages fault: sstatus.SUM is never set.
func permits(pte pagetables.PTE, access pagetables.PTEFlags, user bool) bool {
	if pte.IsUser() != user {
		return false
	}
	return pte.Flags()&access != 0
}

// translate translates va for an access of one kind (Readable, Writable
// or Executable). On failure it returns the exception to raise.
func (h *Hart) translate(va uint64, access pagetables.PTEFlags, user bool) (hostarch.PhysAddr, arch.Cause, bool) {
	pageFault, _ := faultFor(access)
	if hostarch.TokenMode(h.satp) != hostarch.SatpModeSv39 {
		return hostarch.PhysAddr(va), 0, true
	}
	if !hostarch.Canonical(va) {
		return 0, pageFault, false
	}
	vpn := hostarch.VirtAddrFrom(va).Floor()
	off := hostarch.PhysAddr(va & (hostarch.PageSize - 1))
	if e, ok := h.tlb.lookup(vpn); ok && permits(e.pte, access, user) && (access != pagetables.Writable || e.pte.Flags()&pagetables.Dirty != 0) {
		h.stats.TLBHits++
		return e.pa(vpn) + off, 0, true
	}
	h.stats.TLBMisses++
	e, cause, ok := h.walk(vpn, access, user)
	if !ok {
		return 0, cause, false
	}
	h.tlb.insert(vpn, e)
	return e.pa(vpn) + off, 0, true
}

// walk performs the Sv39 translation of vpn from the root in satp, setting
// the accessed and dirty bits of the leaf as hardware does.
func (h *Hart) walk(vpn hostarch.VirtPageNum, access pagetables.PTEFlags, user bool) (tlbEntry, arch.Cause, bool) {
	pageFault, busFault := faultFor(access)
	idx := vpn.Indexes()
	node := hostarch.TokenRoot(h.satp).Addr()
	var buf [hostarch.PTESize]byte
	for level := 0; level < hostarch.Levels; level++ {
		pteAddr := node + hostarch.PhysAddr(idx[level]*hostarch.PTESize)
		if err := h.mem.ReadPhys(pteAddr, buf[:]); err != nil {
			return tlbEntry{}, busFault, false
		}
		pte := pagetables.PTE(hostarch.ByteOrder.Uint64(buf[:]))
		if !pte.IsValid() || (!pte.Readable() && pte.Writable()) {
			return tlbEntry{}, pageFault, false
		}
		if !pte.IsLeaf() {
			node = pte.PPN().Addr()
			continue
		}
		span := uint64(1) << (hostarch.IndexBits * (hostarch.Levels - 1 - level))
		if uint64(pte.PPN())&(span-1) != 0 {
			// Misaligned superpage.
			return tlbEntry{}, pageFault, false
		}
		if !permits(pte, access, user) {
			return tlbEntry{}, pageFault, false
		}
		flags := pte.Flags() | pagetables.Accessed
		if access == pagetables.Writable {
			flags |= pagetables.Dirty
		}
		if flags != pte.Flags() {
			pte = pagetables.NewPTE(pte.PPN(), flags)
			hostarch.ByteOrder.PutUint64(buf[:], uint64(pte))
			if err := h.mem.WritePhys(pteAddr, buf[:]); err != nil {
				return tlbEntry{}, busFault, false
			}
		}
		return tlbEntry{pte: pte, span: span}, 0, true
	}
	return tlbEntry{}, pageFault, false
}
