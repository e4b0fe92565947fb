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
	"bytes"
	"fmt"
	"strings"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
)

// hintColumn is the column area hints are padded to, as in
// /proc/[pid]/maps.
const hintColumn = 73

// MapsText returns one line per area in increasing address order, formatted
// like /proc/[pid]/maps. The trampoline, which is not an area, is listed
// last.
func (ms *MemorySet) MapsText() []byte {
	var b bytes.Buffer
	ms.index.Ascend(func(a *MapArea) bool {
		ms.mapsEntry(&b, a.Range.Start.Addr(), a.Range.End.Addr(), a.Perm, a.Type, a.Range.Len(), a.Name)
		return true
	})
	if pte, ok := ms.pt.Translate(hostarch.Trampoline.Floor()); ok {
		ms.mapsEntry(&b, hostarch.Trampoline, hostarch.Trampoline+hostarch.PageSize, MapPermission(pte.Flags())&(PermR|PermW|PermX|PermU), Identical, 1, "[trampoline]")
	}
	return b.Bytes()
}

func (ms *MemorySet) mapsEntry(b *bytes.Buffer, start, end hostarch.VirtAddr, perm MapPermission, t MapType, pages uint64, hint string) {
	lineStart := b.Len()
	fmt.Fprintf(b, "%08x-%08x %s %-9s %6d ", uint64(start), uint64(end), perm, t, pages)
	if hint != "" {
		if pad := hintColumn - (b.Len() - lineStart); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(hint)
	}
	b.WriteString("\n")
}

// PTEText returns one line per valid leaf entry in increasing virtual page
// order. Contiguous runs of pages with the same flags and consecutive
// frames are collapsed into one line.
func (ms *MemorySet) PTEText() []byte {
	var b bytes.Buffer
	type run struct {
		vpn   hostarch.VirtPageNum
		ppn   hostarch.PhysPageNum
		flags pagetables.PTEFlags
		n     uint64
	}
	var cur run
	flush := func() {
		if cur.n == 0 {
			return
		}
		fmt.Fprintf(&b, "%v-%v -> %v %s\n", cur.vpn, cur.vpn+hostarch.VirtPageNum(cur.n), cur.ppn, cur.flags)
	}
	ms.pt.Walk(func(vpn hostarch.VirtPageNum, pte pagetables.PTE) {
		next := cur.vpn + hostarch.VirtPageNum(cur.n)
		nextPPN := cur.ppn + hostarch.PhysPageNum(cur.n)
		if cur.n > 0 && vpn == next && pte.PPN() == nextPPN && pte.Flags() == cur.flags {
			cur.n++
			return
		}
		flush()
		cur = run{vpn: vpn, ppn: pte.PPN(), flags: pte.Flags(), n: 1}
	})
	flush()
	return b.Bytes()
}
