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
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Build writes a minimal RV64 executable: an ELF header, one PT_LOAD
// program header per segment and the segment contents, each placed at a
// file offset congruent to its address modulo the page size.
func Build(entry hostarch.VirtAddr, segs []Segment) []byte {
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint64(entry),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	off := uint64(ehdrSize + phdrSize*len(segs))
	progs := make([]elf.Prog64, len(segs))
	for i, s := range segs {
		off = alignCongruent(off, uint64(s.VAddr))
		progs[i] = elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  uint64(s.VAddr),
			Paddr:  uint64(s.VAddr),
			Filesz: uint64(len(s.Data)),
			Memsz:  s.MemSize,
			Align:  hostarch.PageSize,
		}
		off += uint64(len(s.Data))
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, progs)
	for i, s := range segs {
		buf.Write(make([]byte, progs[i].Off-uint64(buf.Len())))
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// alignCongruent returns the smallest offset >= off with the same page
// offset as addr.
func alignCongruent(off, addr uint64) uint64 {
	want := addr % hostarch.PageSize
	if off%hostarch.PageSize <= want {
		return off - off%hostarch.PageSize + want
	}
	return off - off%hostarch.PageSize + hostarch.PageSize + want
}
