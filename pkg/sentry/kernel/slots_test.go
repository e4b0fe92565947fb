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

package kernel

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
)

func TestSlotAllocator(t *testing.T) {
	a := NewSlotAllocator("test", 3)
	var hs []*SlotHandle
	for i := 0; i < 3; i++ {
		h, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d failed: %v", i, err)
		}
		hs = append(hs, h)
	}
	if _, err := a.Alloc(); !errors.Is(err, linuxerr.EAGAIN) {
		t.Errorf("Alloc when full: got err %v, want EAGAIN", err)
	}

	hs[1].Release()
	hs[0].Release()
	if got := a.InUse(); got != 1 {
		t.Errorf("InUse: got %d, want 1", got)
	}

	var got []uint64
	for i := 0; i < 2; i++ {
		h, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc after release failed: %v", err)
		}
		got = append(got, h.ID())
	}
	if diff := cmp.Diff([]uint64{0, 1}, got); diff != "" {
		t.Errorf("reused ids mismatch (-want +got):\n%s", diff)
	}
	if a.Capacity() != 3 {
		t.Errorf("Capacity: got %d, want 3", a.Capacity())
	}
}

func TestSlotDoubleRelease(t *testing.T) {
	a := NewSlotAllocator("test", 1)
	h, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	h.Release()
	defer func() {
		if recover() == nil {
			t.Errorf("second Release did not panic")
		}
	}()
	h.Release()
}

func TestSlotAllocatorEmpty(t *testing.T) {
	a := NewSlotAllocator("test", 0)
	if _, err := a.Alloc(); !errors.Is(err, linuxerr.EAGAIN) {
		t.Errorf("Alloc with no capacity: got err %v, want EAGAIN", err)
	}
}
