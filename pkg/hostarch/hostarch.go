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

// Package hostarch describes the Sv39 paging architecture the kernel runs
// on: address and page number types, their widths, and the fixed virtual
// layout shared by every address space.
package hostarch

import "encoding/binary"

// ByteOrder is the byte order of the architecture.
var ByteOrder = binary.LittleEndian

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page (and of a physical frame).
	PageSize = 1 << PageShift

	// PAWidth is the number of significant bits in a physical address.
	PAWidth = 56

	// VAWidth is the number of significant bits in a virtual address.
	VAWidth = 39

	// PPNWidth is the width of a physical page number.
	PPNWidth = PAWidth - PageShift

	// VPNWidth is the width of a virtual page number.
	VPNWidth = VAWidth - PageShift

	// Levels is the number of page table levels.
	Levels = 3

	// IndexBits is the width of a single level's index into a table.
	IndexBits = 9

	// EntriesPerPage is the number of page table entries in a node.
	EntriesPerPage = 1 << IndexBits

	// PTESize is the size in bytes of one page table entry.
	PTESize = 8
)

// Fixed virtual layout.
//
// The trampoline occupies the highest page of the 39-bit space in every
// address space. The trap context page sits directly below it in user
// address spaces, and kernel stacks grow downwards from it in the kernel
// address space, each separated by an unmapped guard page.
const (
	// Trampoline is the virtual address of the trampoline page.
	Trampoline VirtAddr = 1<<VAWidth - PageSize

	// TrapContext is the virtual address of a task's trap context page.
	TrapContext VirtAddr = Trampoline - PageSize

	// UserStackSize is the size of a task's user stack.
	UserStackSize = 2 * PageSize

	// KernelStackSize is the size of a task's kernel stack.
	KernelStackSize = 2 * PageSize
)

// KernelStackPosition returns the [bottom, top) virtual range of the kernel
// stack in slot id.
func KernelStackPosition(id uint64) (bottom, top VirtAddr) {
	top = Trampoline - VirtAddr(id*(KernelStackSize+PageSize))
	bottom = top - KernelStackSize
	return bottom, top
}

// SatpModeSv39 is the MODE field value selecting Sv39 translation.
const SatpModeSv39 = 8

// Token returns the satp value that activates the page table rooted at root.
func Token(root PhysPageNum) uint64 {
	return SatpModeSv39<<60 | uint64(root)
}

// TokenRoot extracts the root page number from a satp value.
func TokenRoot(satp uint64) PhysPageNum {
	return PhysPageNum(satp & (1<<PPNWidth - 1))
}

// TokenMode extracts the MODE field from a satp value.
func TokenMode(satp uint64) uint64 {
	return satp >> 60
}
