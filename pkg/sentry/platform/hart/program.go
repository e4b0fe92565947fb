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

package hart

import (
	"debug/elf"
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/loader"
)

// DataOffset is the distance from a Program's base to its data segment.
const DataOffset = 0x8000

// Program is a user program under construction: code assembled at a base
// address, and a writable data segment DataOffset above it.
type Program struct {
	*Asm
	base hostarch.VirtAddr
	data []byte
}

// NewProgram returns an empty program whose entry point is base.
func NewProgram(base hostarch.VirtAddr) *Program {
	return &Program{Asm: NewAsm(base), base: base}
}

// Data appends b to the data segment, 8-byte aligned, and defines name at
// its address, which it returns.
func (p *Program) Data(name string, b []byte) uint64 {
	for len(p.data)%8 != 0 {
		p.data = append(p.data, 0)
	}
	addr := uint64(p.base) + DataOffset + uint64(len(p.data))
	p.data = append(p.data, b...)
	p.Symbol(name, addr)
	return addr
}

// Image assembles the program and packages it as an executable image.
func (p *Program) Image() ([]byte, error) {
	code, err := p.Assemble()
	if err != nil {
		return nil, err
	}
	if len(code) > DataOffset {
		return nil, fmt.Errorf("%d bytes of code overrun the data segment", len(code))
	}
	segs := []loader.Segment{
		{VAddr: p.base, MemSize: uint64(len(code)), Flags: elf.PF_R | elf.PF_X, Data: code},
	}
	if len(p.data) > 0 {
		segs = append(segs, loader.Segment{
			VAddr:   p.base + DataOffset,
			MemSize: uint64(len(p.data)),
			Flags:   elf.PF_R | elf.PF_W,
			Data:    p.data,
		})
	}
	return loader.Build(p.base, segs), nil
}
