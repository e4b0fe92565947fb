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

package loader

import (
	"debug/elf"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
)

func TestBuildParse(t *testing.T) {
	segs := []Segment{
		{VAddr: 0x10000, MemSize: 8, Flags: elf.PF_R | elf.PF_X, Data: []byte{0x13, 0, 0, 0, 0x73, 0, 0, 0}},
		{VAddr: 0x11800, MemSize: 0x2000, Flags: elf.PF_R | elf.PF_W, Data: []byte("hello")},
	}
	img, err := Parse(Build(0x10000, segs))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := &Image{Entry: 0x10000, Segments: segs}
	if diff := cmp.Diff(want, img); diff != "" {
		t.Errorf("Image mismatch (-want +got):\n%s", diff)
	}
	if got, want := img.Segments[1].End(), hostarch.VirtAddr(0x13800); got != want {
		t.Errorf("End() = %v, want %v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	valid := Build(0x1000, []Segment{{VAddr: 0x1000, MemSize: 4, Flags: elf.PF_R, Data: []byte{1, 2, 3, 4}}})
	patch := func(off int, b ...byte) []byte {
		out := append([]byte(nil), valid...)
		copy(out[off:], b)
		return out
	}
	for _, tc := range []struct {
		name  string
		image []byte
		magic bool
	}{
		{name: "empty", image: nil, magic: true},
		{name: "bad magic", image: patch(0, 0x7f, 'E', 'L', 'G'), magic: true},
		{name: "32-bit", image: patch(elf.EI_CLASS, byte(elf.ELFCLASS32))},
		{name: "x86", image: patch(18, byte(elf.EM_X86_64), 0)},
		{name: "shared object", image: patch(16, byte(elf.ET_DYN), 0)},
		{name: "kernel entry", image: patch(24, 0, 0, 0, 0, 0, 0, 0, 0x80)},
		{name: "filesz > memsz", image: patch(ehdrSize+40, 1)},
		{name: "truncated", image: valid[:len(valid)-2]},
		{name: "kernel segment", image: patch(ehdrSize+16, 0, 0, 0, 0, 0, 0, 0, 0x80)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.image)
			if !linuxerr.Equals(linuxerr.ENOEXEC, err) {
				t.Fatalf("Parse = %v, want ENOEXEC", err)
			}
			if got := errors.Is(err, ErrBadMagic); got != tc.magic {
				t.Errorf("errors.Is(err, ErrBadMagic) = %t, want %t", got, tc.magic)
			}
		})
	}
}

func TestAlignCongruent(t *testing.T) {
	for _, tc := range []struct{ off, addr, want uint64 }{
		{176, 0x10000, 0x1000},
		{0, 0x10000, 0},
		{176, 0x11800, 0x800},
		{0x900, 0x11800, 0x1800},
	} {
		if got := alignCongruent(tc.off, tc.addr); got != tc.want {
			t.Errorf("alignCongruent(%#x, %#x) = %#x, want %#x", tc.off, tc.addr, got, tc.want)
		}
	}
}
