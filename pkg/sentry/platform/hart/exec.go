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

package hart

import (
	"math"
	"math/bits"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
)

// Major opcodes.
const (
	opLoad   = 0x03
	opMisc   = 0x0f
	opImm    = 0x13
	opAUIPC  = 0x17
	opImm32  = 0x1b
	opStore  = 0x23
	opOp     = 0x33
	opLUI    = 0x37
	opOp32   = 0x3b
	opBranch = 0x63
	opJALR   = 0x67
	opJAL    = 0x6f
	opSystem = 0x73
)

// Fixed SYSTEM encodings.
const (
	instECALL  = 0x00000073
	instEBREAK = 0x00100073
)

// Unprivileged counter CSRs.
const (
	csrCycle   = 0xc00
	csrTime    = 0xc01
	csrInstret = 0xc02
)

func sext(v uint64, width uint) int64 {
	shift := 64 - width
	return int64(v<<shift) >> shift
}

func immI(inst uint32) int64 { return int64(int32(inst)) >> 20 }

func immS(inst uint32) int64 {
	return sext(uint64(inst>>25)<<5|uint64(inst>>7&0x1f), 12)
}

func immB(inst uint32) int64 {
	v := uint64(inst>>31)<<12 | uint64(inst>>7&1)<<11 | uint64(inst>>25&0x3f)<<5 | uint64(inst>>8&0xf)<<1
	return sext(v, 13)
}

func immU(inst uint32) int64 { return int64(int32(inst & 0xfffff000)) }

func immJ(inst uint32) int64 {
	v := uint64(inst>>31)<<20 | uint64(inst>>12&0xff)<<12 | uint64(inst>>20&1)<<11 | uint64(inst>>21&0x3ff)<<1
	return sext(v, 21)
}

func (h *Hart) setReg(rd uint32, v uint64) {
	if rd != 0 {
		h.x[rd] = v
	}
}

func (h *Hart) fetch() (uint32, bool) {
	if h.pc%4 != 0 {
		h.trap(arch.CauseInstructionMisaligned, h.pc)
		return 0, false
	}
	pa, cause, ok := h.translate(h.pc, pagetables.Executable, true)
	if !ok {
		h.trap(cause, h.pc)
		return 0, false
	}
	var buf [4]byte
	if err := h.mem.ReadPhys(pa, buf[:]); err != nil {
		h.trap(arch.CauseInstructionFault, h.pc)
		return 0, false
	}
	return hostarch.ByteOrder.Uint32(buf[:]), true
}

func (h *Hart) load(va uint64, n uint64) (uint64, bool) {
	if va%n != 0 {
		h.trap(arch.CauseLoadMisaligned, va)
		return 0, false
	}
	pa, cause, ok := h.translate(va, pagetables.Readable, true)
	if !ok {
		h.trap(cause, va)
		return 0, false
	}
	var buf [8]byte
	if err := h.mem.ReadPhys(pa, buf[:n]); err != nil {
		h.trap(arch.CauseLoadFault, va)
		return 0, false
	}
	return hostarch.ByteOrder.Uint64(buf[:]), true
}

func (h *Hart) store(va uint64, n uint64, v uint64) bool {
	if va%n != 0 {
		h.trap(arch.CauseStoreMisaligned, va)
		return false
	}
	pa, cause, ok := h.translate(va, pagetables.Writable, true)
	if !ok {
		h.trap(cause, va)
		return false
	}
	var buf [8]byte
	hostarch.ByteOrder.PutUint64(buf[:], v)
	if err := h.mem.WritePhys(pa, buf[:n]); err != nil {
		h.trap(arch.CauseStoreFault, va)
		return false
	}
	return true
}

// jumpTarget checks that target is a valid instruction address, raising
// the misaligned exception at the jump if not.
func (h *Hart) jumpTarget(target uint64) bool {
	if target%4 != 0 {
		h.trap(arch.CauseInstructionMisaligned, target)
		return false
	}
	return true
}

func (h *Hart) illegal(inst uint32) {
	h.trap(arch.CauseIllegalInstruction, uint64(inst))
}

// step executes one instruction. An instruction that traps does not
// retire.
func (h *Hart) step() {
	inst, ok := h.fetch()
	if !ok {
		return
	}
	var (
		rd  = inst >> 7 & 0x1f
		f3  = inst >> 12 & 0x7
		rs1 = inst >> 15 & 0x1f
		rs2 = inst >> 20 & 0x1f
		f7  = inst >> 25
		a   = h.x[rs1]
		b   = h.x[rs2]
	)
	next := h.pc + 4

	switch inst & 0x7f {
	case opLUI:
		h.setReg(rd, uint64(immU(inst)))

	case opAUIPC:
		h.setReg(rd, h.pc+uint64(immU(inst)))

	case opJAL:
		target := h.pc + uint64(immJ(inst))
		if !h.jumpTarget(target) {
			return
		}
		h.setReg(rd, next)
		next = target

	case opJALR:
		if f3 != 0 {
			h.illegal(inst)
			return
		}
		target := (a + uint64(immI(inst))) &^ 1
		if !h.jumpTarget(target) {
			return
		}
		h.setReg(rd, next)
		next = target

	case opBranch:
		var taken bool
		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			h.illegal(inst)
			return
		}
		if taken {
			target := h.pc + uint64(immB(inst))
			if !h.jumpTarget(target) {
				return
			}
			next = target
		}

	case opLoad:
		va := a + uint64(immI(inst))
		var v uint64
		switch f3 {
		case 0, 4:
			v, ok = h.load(va, 1)
			if f3 == 0 {
				v = uint64(int64(int8(v)))
			}
		case 1, 5:
			v, ok = h.load(va, 2)
			if f3 == 1 {
				v = uint64(int64(int16(v)))
			}
		case 2, 6:
			v, ok = h.load(va, 4)
			if f3 == 2 {
				v = uint64(int64(int32(v)))
			}
		case 3:
			v, ok = h.load(va, 8)
		default:
			h.illegal(inst)
			return
		}
		if !ok {
			return
		}
		h.setReg(rd, v)

	case opStore:
		if f3 > 3 {
			h.illegal(inst)
			return
		}
		if !h.store(a+uint64(immS(inst)), 1<<f3, b) {
			return
		}

	case opImm:
		imm := uint64(immI(inst))
		shamt := imm & 0x3f
		var v uint64
		switch f3 {
		case 0:
			v = a + imm
		case 1:
			if inst>>26 != 0 {
				h.illegal(inst)
				return
			}
			v = a << shamt
		case 2:
			v = b2u(int64(a) < int64(imm))
		case 3:
			v = b2u(a < imm)
		case 4:
			v = a ^ imm
		case 5:
			switch inst >> 26 {
			case 0:
				v = a >> shamt
			case 0x10:
				v = uint64(int64(a) >> shamt)
			default:
				h.illegal(inst)
				return
			}
		case 6:
			v = a | imm
		case 7:
			v = a & imm
		}
		h.setReg(rd, v)

	case opImm32:
		imm := uint64(immI(inst))
		shamt := rs2
		var v uint32
		switch {
		case f3 == 0:
			v = uint32(a + imm)
		case f3 == 1 && f7 == 0:
			v = uint32(a) << shamt
		case f3 == 5 && f7 == 0:
			v = uint32(a) >> shamt
		case f3 == 5 && f7 == 0x20:
			v = uint32(int32(a) >> shamt)
		default:
			h.illegal(inst)
			return
		}
		h.setReg(rd, uint64(int64(int32(v))))

	case opOp:
		v, ok := alu(f7, f3, a, b)
		if !ok {
			h.illegal(inst)
			return
		}
		h.setReg(rd, v)

	case opOp32:
		v, ok := alu32(f7, f3, uint32(a), uint32(b))
		if !ok {
			h.illegal(inst)
			return
		}
		h.setReg(rd, uint64(int64(int32(v))))

	case opMisc:
		// FENCE and FENCE.I: memory is always coherent here.

	case opSystem:
		switch {
		case inst == instECALL:
			h.trap(arch.CauseUserEnvCall, 0)
			return
		case inst == instEBREAK:
			h.trap(arch.CauseBreakpoint, h.pc)
			return
		case f3 == 2 && rs1 == 0:
			// csrrs rd, csr, zero: read a counter.
			switch inst >> 20 {
			case csrCycle, csrTime, csrInstret:
				h.setReg(rd, h.time)
			default:
				h.illegal(inst)
				return
			}
		default:
			h.illegal(inst)
			return
		}

	default:
		h.illegal(inst)
		return
	}
	h.pc = next
	h.time++
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// alu implements the OP major opcode, including the M extension.
func alu(f7, f3 uint32, a, b uint64) (uint64, bool) {
	switch f7 {
	case 0:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			return b2u(int64(a) < int64(b)), true
		case 3:
			return b2u(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}
	case 1:
		switch f3 {
		case 0:
			return a * b, true
		case 1:
			hi, _ := bits.Mul64(a, b)
			if int64(a) < 0 {
				hi -= b
			}
			if int64(b) < 0 {
				hi -= a
			}
			return hi, true
		case 2:
			hi, _ := bits.Mul64(a, b)
			if int64(a) < 0 {
				hi -= b
			}
			return hi, true
		case 3:
			hi, _ := bits.Mul64(a, b)
			return hi, true
		case 4:
			switch {
			case b == 0:
				return ^uint64(0), true
			case int64(a) == math.MinInt64 && int64(b) == -1:
				return a, true
			}
			return uint64(int64(a) / int64(b)), true
		case 5:
			if b == 0 {
				return ^uint64(0), true
			}
			return a / b, true
		case 6:
			switch {
			case b == 0:
				return a, true
			case int64(a) == math.MinInt64 && int64(b) == -1:
				return 0, true
			}
			return uint64(int64(a) % int64(b)), true
		case 7:
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}
	return 0, false
}

// alu32 implements the OP-32 major opcode. The result is sign-extended by
// the caller.
func alu32(f7, f3 uint32, a, b uint32) (uint32, bool) {
	switch f7 {
	case 0:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x1f), true
		case 5:
			return a >> (b & 0x1f), true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint32(int32(a) >> (b & 0x1f)), true
		}
	case 1:
		switch f3 {
		case 0:
			return a * b, true
		case 4:
			switch {
			case b == 0:
				return ^uint32(0), true
			case int32(a) == math.MinInt32 && int32(b) == -1:
				return a, true
			}
			return uint32(int32(a) / int32(b)), true
		case 5:
			if b == 0 {
				return ^uint32(0), true
			}
			return a / b, true
		case 6:
			switch {
			case b == 0:
				return a, true
			case int32(a) == math.MinInt32 && int32(b) == -1:
				return 0, true
			}
			return uint32(int32(a) % int32(b)), true
		case 7:
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}
	return 0, false
}
