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
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
)

const (
	page = hostarch.PageSize
	base = hostarch.PhysAddr(0x8020_0000)
)

func newTestAllocator(t *testing.T, frames int) (*Allocator, hostarch.PhysPageNum) {
	t.Helper()
	mf, err := NewMemoryFile(base, base+hostarch.PhysAddr(frames*page))
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	t.Cleanup(func() { mf.Destroy() })
	a := NewAllocator(mf)
	start, end := mf.Range()
	a.Init(start, end)
	return a, start
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestTwoFramePool(t *testing.T) {
	a, start := newTestAllocator(t, 2)
	p0, ok0 := a.Alloc()
	p1, ok1 := a.Alloc()
	if !ok0 || !ok1 {
		t.Fatalf("Alloc failed on a fresh pool")
	}
	if diff := cmp.Diff([]hostarch.PhysPageNum{start, start + 1}, []hostarch.PhysPageNum{p0, p1}); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a.Alloc(); ok {
		t.Fatalf("third Alloc succeeded on an exhausted pool")
	}
	a.Dealloc(p0)
	got, ok := a.Alloc()
	if !ok || got != p0 {
		t.Errorf("Alloc after Dealloc(%v) = %v, %t; want the freed frame", p0, got, ok)
	}
}

func TestRecycleIsLIFO(t *testing.T) {
	a, _ := newTestAllocator(t, 4)
	var ppns []hostarch.PhysPageNum
	for i := 0; i < 3; i++ {
		p, _ := a.Alloc()
		ppns = append(ppns, p)
	}
	a.Dealloc(ppns[0])
	a.Dealloc(ppns[2])
	var got []hostarch.PhysPageNum
	for i := 0; i < 3; i++ {
		p, ok := a.Alloc()
		if !ok {
			t.Fatalf("Alloc %d failed", i)
		}
		got = append(got, p)
	}
	want := []hostarch.PhysPageNum{ppns[2], ppns[0], ppns[2] + 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reuse order mismatch (-want +got):\n%s", diff)
	}
}

func TestUniqueAndZeroed(t *testing.T) {
	const frames = 32
	a, _ := newTestAllocator(t, frames)
	mf := a.MemoryFile()
	live := make(map[hostarch.PhysPageNum]bool)
	zero := make([]byte, page)
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && r.Intn(3) == 0 {
			for p := range live {
				delete(live, p)
				a.Dealloc(p)
				break
			}
			continue
		}
		p, ok := a.Alloc()
		if !ok {
			if len(live) != frames {
				t.Fatalf("Alloc failed with %d of %d frames live", len(live), frames)
			}
			continue
		}
		if live[p] {
			t.Fatalf("frame %v handed out twice", p)
		}
		live[p] = true
		mf.SetRole(p, RoleData)
		b := mf.Bytes(p)
		if !bytes.Equal(b, zero) {
			t.Fatalf("frame %v not zeroed", p)
		}
		r.Read(b)
		mf.SetRole(p, RoleFree)
	}
	if got, want := a.Used(), uint64(len(live)); got != want {
		t.Errorf("Used() = %d, want %d", got, want)
	}
	if got, want := a.Free(), uint64(frames-len(live)); got != want {
		t.Errorf("Free() = %d, want %d", got, want)
	}
}

func TestDeallocContract(t *testing.T) {
	a, start := newTestAllocator(t, 4)
	p, _ := a.Alloc()
	mustPanic(t, "Dealloc of a never allocated frame", func() { a.Dealloc(start + 3) })
	mustPanic(t, "Dealloc below the range", func() { a.Dealloc(start - 1) })
	a.Dealloc(p)
	mustPanic(t, "double Dealloc", func() { a.Dealloc(p) })
	mustPanic(t, "second Init", func() { a.Init(start, start+1) })
}

func TestFrameTracker(t *testing.T) {
	a, _ := newTestAllocator(t, 1)
	f, err := a.AllocFrame(RoleTable)
	if err != nil {
		t.Fatalf("AllocFrame failed: %v", err)
	}
	if got := a.MemoryFile().Role(f.PPN()); got != RoleTable {
		t.Errorf("Role = %v, want %v", got, RoleTable)
	}
	mustPanic(t, "data view of a table frame", func() { f.Bytes() })
	if _, err := a.AllocFrame(RoleData); !errors.Is(err, ErrOutOfFrames) || !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("AllocFrame on an empty pool = %v, want ErrOutOfFrames", err)
	}
	f.Release()
	if got := a.MemoryFile().Role(f.PPN()); got != RoleFree {
		t.Errorf("Role after Release = %v, want %v", got, RoleFree)
	}
	mustPanic(t, "double Release", f.Release)
}

func TestPhysicalBus(t *testing.T) {
	a, start := newTestAllocator(t, 2)
	mf := a.MemoryFile()
	pa := start.Addr() + page - 4
	if err := mf.WritePhys(pa, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("WritePhys across frames failed: %v", err)
	}
	got := make([]byte, 8)
	if err := mf.ReadPhys(pa, got); err != nil {
		t.Fatalf("ReadPhys failed: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6, 7, 8}, got); diff != "" {
		t.Errorf("ReadPhys mismatch (-want +got):\n%s", diff)
	}
	if err := mf.ReadPhys(start.Addr()+2*page-4, got); err == nil {
		t.Errorf("ReadPhys past the end succeeded")
	}
	if err := mf.ReadPhys(start.Addr()-8, got); err == nil {
		t.Errorf("ReadPhys below the start succeeded")
	}
}
