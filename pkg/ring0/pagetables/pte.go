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
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

// PTEFlags are the low eight bits of a page table entry.
type PTEFlags uint8

// Sv39 entry flags.
const (
	Valid PTEFlags = 1 << iota
	Readable
	Writable
	Executable
	User
	Global
	Accessed
	Dirty
)

const (
	ppnShift = 10
	ppnMask  = 1<<hostarch.PPNWidth - 1
)

// String returns the flags as "VRWXUGAD" with '-' for each clear bit.
func (f PTEFlags) String() string {
	const names = "VRWXUGAD"
	var b [8]byte
	for i := range b {
		if f&(1<<i) != 0 {
			b[i] = names[i]
		} else {
			b[i] = '-'
		}
	}
	return string(b[:])
}

// PTE is an Sv39 page table entry: a physical page number in bits 10..53
// and flags in bits 0..7.
type PTE uint64

// NewPTE packs ppn and flags into an entry.
func NewPTE(ppn hostarch.PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)&ppnMask<<ppnShift | uint64(flags))
}

// PPN returns the entry's physical page number. It is meaningless unless
// the entry is valid.
func (p PTE) PPN() hostarch.PhysPageNum {
	return hostarch.PhysPageNum(uint64(p) >> ppnShift & ppnMask)
}

// Flags returns the entry's flags.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p)
}

// IsValid returns true if the valid bit is set.
func (p PTE) IsValid() bool { return p.Flags()&Valid != 0 }

// Readable returns true if the read bit is set.
func (p PTE) Readable() bool { return p.Flags()&Readable != 0 }

// Writable returns true if the write bit is set.
func (p PTE) Writable() bool { return p.Flags()&Writable != 0 }

// Executable returns true if the execute bit is set.
func (p PTE) Executable() bool { return p.Flags()&Executable != 0 }

// IsUser returns true if the entry is accessible from user mode.
func (p PTE) IsUser() bool { return p.Flags()&User != 0 }

// IsLeaf returns true if the entry maps a page rather than pointing to the
// next level.
func (p PTE) IsLeaf() bool { return p.Flags()&(Readable|Writable|Executable) != 0 }

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.IsValid() {
		return "PTE(invalid)"
	}
	return fmt.Sprintf("PTE(%v %v)", p.PPN(), p.Flags())
}

// PTEs is a bounds-checked view of one page table node.
type PTEs struct {
	b []byte
}

// NewPTEs wraps the contents of a node frame.
func NewPTEs(b []byte) PTEs {
	if len(b) != hostarch.EntriesPerPage*hostarch.PTESize {
		panic(fmt.Sprintf("page table node of %d bytes", len(b)))
	}
	return PTEs{b: b}
}

// Get returns entry i.
func (t PTEs) Get(i uint64) PTE {
	return PTE(hostarch.ByteOrder.Uint64(t.b[i*hostarch.PTESize:]))
}

// Set stores entry i.
func (t PTEs) Set(i uint64, p PTE) {
	hostarch.ByteOrder.PutUint64(t.b[i*hostarch.PTESize:], uint64(p))
}
