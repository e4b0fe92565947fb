// Copyright 2018 Google LLC
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

// Package loader parses executable images into loadable segments.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
)

// ErrBadMagic is returned for images that do not start with the ELF magic.
var ErrBadMagic = fmt.Errorf("invalid ELF magic: %w", linuxerr.ENOEXEC)

// maxUserAddr bounds user segments to the lower half of the address space.
const maxUserAddr = 1 << (hostarch.VAWidth - 1)

// Segment is one PT_LOAD program header with its file contents.
type Segment struct {
	// VAddr is the virtual address of the first byte.
	VAddr hostarch.VirtAddr

	// MemSize is the size of the segment in memory. Bytes past len(Data)
	// are zero.
	MemSize uint64

	// Flags holds the PF_R, PF_W and PF_X permissions.
	Flags elf.ProgFlag

	// Data is the file contents of the segment.
	Data []byte
}

// End returns the address one past the last byte of the segment.
func (s *Segment) End() hostarch.VirtAddr {
	return s.VAddr + hostarch.VirtAddr(s.MemSize)
}

// Image is a parsed executable.
type Image struct {
	// Entry is the initial program counter.
	Entry hostarch.VirtAddr

	// Segments are the loadable segments in file order.
	Segments []Segment
}

// Parse validates an RV64 executable and extracts its loadable segments.
// Malformed images return an error wrapping linuxerr.ENOEXEC.
func Parse(b []byte) (*Image, error) {
	if !bytes.HasPrefix(b, []byte(elf.ELFMAG)) {
		log.Warningf("Image does not start with the ELF magic")
		return nil, ErrBadMagic
	}
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		log.Warningf("Couldn't parse ELF: %v", err)
		return nil, fmt.Errorf("%v: %w", err, linuxerr.ENOEXEC)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		log.Warningf("Unsupported ELF class %v data %v", f.Class, f.Data)
		return nil, linuxerr.ENOEXEC
	}
	if f.Machine != elf.EM_RISCV {
		log.Warningf("Unsupported ELF machine %v", f.Machine)
		return nil, linuxerr.ENOEXEC
	}
	if f.Type != elf.ET_EXEC {
		log.Warningf("Unsupported ELF type %v", f.Type)
		return nil, linuxerr.ENOEXEC
	}
	if f.Entry >= maxUserAddr {
		log.Warningf("Entry point %#x outside user space", f.Entry)
		return nil, linuxerr.ENOEXEC
	}

	img := &Image{Entry: hostarch.VirtAddr(f.Entry)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			log.Warningf("PT_LOAD segment filesz %#x > memsz %#x", p.Filesz, p.Memsz)
			return nil, linuxerr.ENOEXEC
		}
		end := p.Vaddr + p.Memsz
		if end < p.Vaddr || end > maxUserAddr {
			log.Warningf("PT_LOAD segment [%#x, %#x) outside user space", p.Vaddr, end)
			return nil, linuxerr.ENOEXEC
		}
		if p.Off+p.Filesz < p.Off || p.Off+p.Filesz > uint64(len(b)) {
			log.Warningf("PT_LOAD segment data [%#x, %#x) extends beyond end of file %#x", p.Off, p.Off+p.Filesz, len(b))
			return nil, linuxerr.ENOEXEC
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:   hostarch.VirtAddr(p.Vaddr),
			MemSize: p.Memsz,
			Flags:   p.Flags,
			Data:    bytes.Clone(b[p.Off : p.Off+p.Filesz]),
		})
	}
	if len(img.Segments) == 0 {
		log.Warningf("ELF has no PT_LOAD segments")
		return nil, linuxerr.ENOEXEC
	}
	return img, nil
}
