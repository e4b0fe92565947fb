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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFirstZero(t *testing.T) {
	b := New(130)
	for i := uint32(0); i < 65; i++ {
		b.Add(i)
	}
	for _, tc := range []struct {
		start uint32
		want  uint32
	}{
		{0, 65},
		{64, 65},
		{100, 100},
		{129, 129},
	} {
		got, err := b.FirstZero(tc.start)
		if err != nil {
			t.Fatalf("FirstZero(%d) failed: %v", tc.start, err)
		}
		if got != tc.want {
			t.Errorf("FirstZero(%d) = %d, want %d", tc.start, got, tc.want)
		}
	}
	if _, err := b.FirstZero(130); err == nil {
		t.Errorf("FirstZero(130) succeeded beyond the bitmap size")
	}
}

func TestFull(t *testing.T) {
	b := New(3)
	for i := uint32(0); i < 3; i++ {
		b.Add(i)
	}
	if _, err := b.FirstZero(0); err == nil {
		t.Fatalf("FirstZero on a full bitmap succeeded")
	}
	b.Remove(1)
	if got, err := b.FirstZero(0); err != nil || got != 1 {
		t.Errorf("FirstZero(0) = %d, %v, want 1, nil", got, err)
	}
}

func TestAddRemove(t *testing.T) {
	b := New(200)
	for _, i := range []uint32{3, 64, 199, 3} {
		b.Add(i)
	}
	if got := b.GetNumOnes(); got != 3 {
		t.Errorf("GetNumOnes() = %d, want 3", got)
	}
	if diff := cmp.Diff([]uint32{3, 64, 199}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	if !b.Contains(64) || b.Contains(65) {
		t.Errorf("Contains reports wrong membership")
	}
	b.Remove(64)
	b.Remove(64)
	if b.Contains(64) || b.GetNumOnes() != 2 {
		t.Errorf("Remove(64) left %v", b.ToSlice())
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Add(200) did not panic")
		}
	}()
	b.Add(200)
}
