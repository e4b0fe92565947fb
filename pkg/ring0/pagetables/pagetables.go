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

// Package pagetables provides a generic implementation of Sv39 page tables.
//
// A PageTables owns its root node and every intermediate node it creates.
// It never owns the frames its leaves point to: releasing those is the job
// of whoever installed the mapping.
package pagetables

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the root node.
	root hostarch.PhysPageNum

	// nodes holds every node owned by this table, root first.
	nodes []hostarch.PhysPageNum

	// readOnly is set for views built by FromToken.
	readOnly bool
}

// New returns new PageTables with an empty root node.
func New(a Allocator) (*PageTables, error) {
	root, err := a.NewPTEs()
	if err != nil {
		return nil, fmt.Errorf("allocating root node: %w", err)
	}
	return &PageTables{
		Allocator: a,
		root:      root,
		nodes:     []hostarch.PhysPageNum{root},
	}, nil
}

// FromToken returns a lookup-only view of the page table activated by satp.
// The view owns nothing; Map and Unmap on it panic.
func FromToken(satp uint64, a Allocator) *PageTables {
	return &PageTables{
		Allocator: a,
		root:      hostarch.TokenRoot(satp),
		readOnly:  true,
	}
}

// Root returns the physical page number of the root node.
func (p *PageTables) Root() hostarch.PhysPageNum {
	return p.root
}

// Token returns the satp value that activates this table.
func (p *PageTables) Token() uint64 {
	return hostarch.Token(p.root)
}

// Nodes returns the number of nodes owned by this table.
func (p *PageTables) Nodes() int {
	return len(p.nodes)
}

// findPTEOrCreate walks to the leaf slot for vpn, creating missing
// intermediate nodes. The returned slot may be invalid.
func (p *PageTables) findPTEOrCreate(vpn hostarch.VirtPageNum) (PTEs, uint64, error) {
	idx := vpn.Indexes()
	node := p.root
	for level := 0; ; level++ {
		ptes := p.Allocator.LookupPTEs(node)
		if level == hostarch.Levels-1 {
			return ptes, idx[level], nil
		}
		pte := ptes.Get(idx[level])
		if !pte.IsValid() {
			next, err := p.Allocator.NewPTEs()
			if err != nil {
				return PTEs{}, 0, fmt.Errorf("allocating level %d node for %v: %w", level+1, vpn, err)
			}
			p.nodes = append(p.nodes, next)
			pte = NewPTE(next, Valid)
			ptes.Set(idx[level], pte)
		}
		node = pte.PPN()
	}
}

// findPTE walks to the leaf slot for vpn without creating anything. It
// returns false if an intermediate entry is invalid.
func (p *PageTables) findPTE(vpn hostarch.VirtPageNum) (PTEs, uint64, bool) {
	idx := vpn.Indexes()
	node := p.root
	for level := 0; ; level++ {
		ptes := p.Allocator.LookupPTEs(node)
		if level == hostarch.Levels-1 {
			return ptes, idx[level], true
		}
		pte := ptes.Get(idx[level])
		if !pte.IsValid() {
			return PTEs{}, 0, false
		}
		node = pte.PPN()
	}
}

// Map installs a leaf mapping vpn to ppn with flags|Valid.
//
// Precondition: vpn must not be mapped. Mapping over a valid entry panics.
// The only error is failure to allocate an intermediate node.
func (p *PageTables) Map(vpn hostarch.VirtPageNum, ppn hostarch.PhysPageNum, flags PTEFlags) error {
	p.checkWritable()
	ptes, i, err := p.findPTEOrCreate(vpn)
	if err != nil {
		return err
	}
	if old := ptes.Get(i); old.IsValid() {
		panic(fmt.Sprintf("%v is mapped before mapping: %v", vpn, old))
	}
	ptes.Set(i, NewPTE(ppn, flags|Valid))
	return nil
}

// Unmap clears the leaf mapping for vpn. The mapped frame is not freed.
//
// Precondition: vpn must be mapped.
func (p *PageTables) Unmap(vpn hostarch.VirtPageNum) {
	p.checkWritable()
	ptes, i, ok := p.findPTE(vpn)
	if !ok || !ptes.Get(i).IsValid() {
		panic(fmt.Sprintf("%v is invalid before unmapping", vpn))
	}
	ptes.Set(i, 0)
}

// Translate returns the leaf entry for vpn, or false if vpn is not mapped.
func (p *PageTables) Translate(vpn hostarch.VirtPageNum) (PTE, bool) {
	ptes, i, ok := p.findPTE(vpn)
	if !ok {
		return 0, false
	}
	pte := ptes.Get(i)
	return pte, pte.IsValid()
}

// TranslatePPN returns the frame backing vpn. It is used where the mapping
// is known to exist, and panics otherwise.
func (p *PageTables) TranslatePPN(vpn hostarch.VirtPageNum) hostarch.PhysPageNum {
	pte, ok := p.Translate(vpn)
	if !ok {
		panic(fmt.Sprintf("no translation for %v", vpn))
	}
	return pte.PPN()
}

// TranslateVA translates a virtual address to a physical address.
func (p *PageTables) TranslateVA(va hostarch.VirtAddr) (hostarch.PhysAddr, bool) {
	pte, ok := p.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return pte.PPN().Addr() + hostarch.PhysAddr(va.PageOffset()), true
}

// Walk calls fn for every valid leaf in increasing virtual page order.
func (p *PageTables) Walk(fn func(vpn hostarch.VirtPageNum, pte PTE)) {
	p.walk(p.root, 0, 0, fn)
}

func (p *PageTables) walk(node hostarch.PhysPageNum, level int, prefix uint64, fn func(hostarch.VirtPageNum, PTE)) {
	ptes := p.Allocator.LookupPTEs(node)
	for i := uint64(0); i < hostarch.EntriesPerPage; i++ {
		pte := ptes.Get(i)
		if !pte.IsValid() {
			continue
		}
		vpn := prefix<<hostarch.IndexBits | i
		if level == hostarch.Levels-1 {
			fn(hostarch.VirtPageNum(vpn), pte)
			continue
		}
		p.walk(pte.PPN(), level+1, vpn, fn)
	}
}

// Release frees every node owned by the table. The table must not be used
// afterwards. Views built by FromToken own nothing and release nothing.
func (p *PageTables) Release() {
	for _, n := range p.nodes {
		p.Allocator.FreePTEs(n)
	}
	p.nodes = nil
}

func (p *PageTables) checkWritable() {
	if p.readOnly {
		panic("modifying a page table view built from a token")
	}
}
