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
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

// Reg is a general purpose register.
type Reg uint32

// Registers by ABI name.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

type fixupKind int

const (
	fixBranch fixupKind = iota
	fixJAL
	fixPCRel
)

type fixup struct {
	kind  fixupKind
	index int
	label string
}

// Asm assembles RV64IM code at a fixed address. Branches and jumps refer
// to labels, which may be defined after use.
//
// Errors are sticky: the first one is returned by Assemble.
type Asm struct {
	base   uint64
	words  []uint32
	labels map[string]uint64
	fixups []fixup
	err    error
}

// NewAsm returns an assembler placing code at base.
func NewAsm(base hostarch.VirtAddr) *Asm {
	return &Asm{
		base:   uint64(base),
		labels: make(map[string]uint64),
	}
}

// PC returns the address of the next instruction.
func (a *Asm) PC() uint64 {
	return a.base + 4*uint64(len(a.words))
}

func (a *Asm) errorf(format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf("at %#x: %s", a.PC(), fmt.Sprintf(format, v...))
	}
}

// Label defines name at the current address.
func (a *Asm) Label(name string) {
	a.Symbol(name, a.PC())
}

// Symbol defines name at addr, which may be outside the code, such as the
// address of data.
func (a *Asm) Symbol(name string, addr uint64) {
	if _, ok := a.labels[name]; ok {
		a.errorf("label %q redefined", name)
		return
	}
	a.labels[name] = addr
}

// Word emits a raw instruction.
func (a *Asm) Word(w uint32) {
	a.words = append(a.words, w)
}

func fits(v int64, width uint) bool {
	return v >= -(1<<(width-1)) && v < 1<<(width-1)
}

func (a *Asm) checkImm(v int64, width uint) uint32 {
	if !fits(v, width) {
		a.errorf("immediate %d does not fit in %d bits", v, width)
	}
	return uint32(v)
}

func encR(op, f3, f7 uint32, rd, rs1, rs2 Reg) uint32 {
	return f7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

func encI(op, f3 uint32, rd, rs1 Reg, imm uint32) uint32 {
	return (imm&0xfff)<<20 | uint32(rs1)<<15 | f3<<12 | uint32(rd)<<7 | op
}

func encS(op, f3 uint32, rs1, rs2 Reg, imm uint32) uint32 {
	return (imm>>5&0x7f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (imm&0x1f)<<7 | op
}

func encB(f3 uint32, rs1, rs2 Reg, imm uint32) uint32 {
	return (imm>>12&1)<<31 | (imm>>5&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | f3<<12 | (imm>>1&0xf)<<8 | (imm>>11&1)<<7 | opBranch
}

func encU(op uint32, rd Reg, imm20 uint32) uint32 {
	return (imm20&0xfffff)<<12 | uint32(rd)<<7 | op
}

func encJ(rd Reg, imm uint32) uint32 {
	return (imm>>20&1)<<31 | (imm>>1&0x3ff)<<21 | (imm>>11&1)<<20 | (imm>>12&0xff)<<12 | uint32(rd)<<7 | opJAL
}

func (a *Asm) i(op, f3 uint32, rd, rs1 Reg, imm int64) {
	a.Word(encI(op, f3, rd, rs1, a.checkImm(imm, 12)))
}

func (a *Asm) r(op, f3, f7 uint32, rd, rs1, rs2 Reg) {
	a.Word(encR(op, f3, f7, rd, rs1, rs2))
}

func (a *Asm) shift(op, f3, f6 uint32, rd, rs1 Reg, shamt uint32, limit uint32) {
	if shamt >= limit {
		a.errorf("shift amount %d out of range", shamt)
	}
	a.Word(encI(op, f3, rd, rs1, f6<<6|shamt))
}

// Lui emits lui rd, imm20.
func (a *Asm) Lui(rd Reg, imm20 uint32) { a.Word(encU(opLUI, rd, imm20)) }

// Auipc emits auipc rd, imm20.
func (a *Asm) Auipc(rd Reg, imm20 uint32) { a.Word(encU(opAUIPC, rd, imm20)) }

// Jal emits jal rd, label.
func (a *Asm) Jal(rd Reg, label string) {
	a.fixups = append(a.fixups, fixup{kind: fixJAL, index: len(a.words), label: label})
	a.Word(encJ(rd, 0))
}

// J emits j label.
func (a *Asm) J(label string) { a.Jal(Zero, label) }

// Call emits call label, for a label within jal range.
func (a *Asm) Call(label string) { a.Jal(RA, label) }

// Jalr emits jalr rd, imm(rs1).
func (a *Asm) Jalr(rd, rs1 Reg, imm int64) { a.i(opJALR, 0, rd, rs1, imm) }

// Ret emits ret.
func (a *Asm) Ret() { a.Jalr(Zero, RA, 0) }

func (a *Asm) branch(f3 uint32, rs1, rs2 Reg, label string) {
	a.fixups = append(a.fixups, fixup{kind: fixBranch, index: len(a.words), label: label})
	a.Word(encB(f3, rs1, rs2, 0))
}

// Beq emits beq rs1, rs2, label.
func (a *Asm) Beq(rs1, rs2 Reg, label string) { a.branch(0, rs1, rs2, label) }

// Bne emits bne rs1, rs2, label.
func (a *Asm) Bne(rs1, rs2 Reg, label string) { a.branch(1, rs1, rs2, label) }

// Blt emits blt rs1, rs2, label.
func (a *Asm) Blt(rs1, rs2 Reg, label string) { a.branch(4, rs1, rs2, label) }

// Bge emits bge rs1, rs2, label.
func (a *Asm) Bge(rs1, rs2 Reg, label string) { a.branch(5, rs1, rs2, label) }

// Bltu emits bltu rs1, rs2, label.
func (a *Asm) Bltu(rs1, rs2 Reg, label string) { a.branch(6, rs1, rs2, label) }

// Bgeu emits bgeu rs1, rs2, label.
func (a *Asm) Bgeu(rs1, rs2 Reg, label string) { a.branch(7, rs1, rs2, label) }

// Beqz emits beqz rs, label.
func (a *Asm) Beqz(rs Reg, label string) { a.Beq(rs, Zero, label) }

// Bnez emits bnez rs, label.
func (a *Asm) Bnez(rs Reg, label string) { a.Bne(rs, Zero, label) }

// Lb emits lb rd, imm(rs1).
func (a *Asm) Lb(rd, rs1 Reg, imm int64) { a.i(opLoad, 0, rd, rs1, imm) }

// Lh emits lh rd, imm(rs1).
func (a *Asm) Lh(rd, rs1 Reg, imm int64) { a.i(opLoad, 1, rd, rs1, imm) }

// Lw emits lw rd, imm(rs1).
func (a *Asm) Lw(rd, rs1 Reg, imm int64) { a.i(opLoad, 2, rd, rs1, imm) }

// Ld emits ld rd, imm(rs1).
func (a *Asm) Ld(rd, rs1 Reg, imm int64) { a.i(opLoad, 3, rd, rs1, imm) }

// Lbu emits lbu rd, imm(rs1).
func (a *Asm) Lbu(rd, rs1 Reg, imm int64) { a.i(opLoad, 4, rd, rs1, imm) }

// Lhu emits lhu rd, imm(rs1).
func (a *Asm) Lhu(rd, rs1 Reg, imm int64) { a.i(opLoad, 5, rd, rs1, imm) }

// Lwu emits lwu rd, imm(rs1).
func (a *Asm) Lwu(rd, rs1 Reg, imm int64) { a.i(opLoad, 6, rd, rs1, imm) }

func (a *Asm) store(f3 uint32, rs2, rs1 Reg, imm int64) {
	a.Word(encS(opStore, f3, rs1, rs2, a.checkImm(imm, 12)))
}

// Sb emits sb rs2, imm(rs1).
func (a *Asm) Sb(rs2, rs1 Reg, imm int64) { a.store(0, rs2, rs1, imm) }

// Sh emits sh rs2, imm(rs1).
func (a *Asm) Sh(rs2, rs1 Reg, imm int64) { a.store(1, rs2, rs1, imm) }

// Sw emits sw rs2, imm(rs1).
func (a *Asm) Sw(rs2, rs1 Reg, imm int64) { a.store(2, rs2, rs1, imm) }

// Sd emits sd rs2, imm(rs1).
func (a *Asm) Sd(rs2, rs1 Reg, imm int64) { a.store(3, rs2, rs1, imm) }

// Addi emits addi rd, rs1, imm.
func (a *Asm) Addi(rd, rs1 Reg, imm int64) { a.i(opImm, 0, rd, rs1, imm) }

// Slti emits slti rd, rs1, imm.
func (a *Asm) Slti(rd, rs1 Reg, imm int64) { a.i(opImm, 2, rd, rs1, imm) }

// Sltiu emits sltiu rd, rs1, imm.
func (a *Asm) Sltiu(rd, rs1 Reg, imm int64) { a.i(opImm, 3, rd, rs1, imm) }

// Xori emits xori rd, rs1, imm.
func (a *Asm) Xori(rd, rs1 Reg, imm int64) { a.i(opImm, 4, rd, rs1, imm) }

// Ori emits ori rd, rs1, imm.
func (a *Asm) Ori(rd, rs1 Reg, imm int64) { a.i(opImm, 6, rd, rs1, imm) }

// Andi emits andi rd, rs1, imm.
func (a *Asm) Andi(rd, rs1 Reg, imm int64) { a.i(opImm, 7, rd, rs1, imm) }

// Slli emits slli rd, rs1, shamt.
func (a *Asm) Slli(rd, rs1 Reg, shamt uint32) { a.shift(opImm, 1, 0, rd, rs1, shamt, 64) }

// Srli emits srli rd, rs1, shamt.
func (a *Asm) Srli(rd, rs1 Reg, shamt uint32) { a.shift(opImm, 5, 0, rd, rs1, shamt, 64) }

// Srai emits srai rd, rs1, shamt.
func (a *Asm) Srai(rd, rs1 Reg, shamt uint32) { a.shift(opImm, 5, 0x10, rd, rs1, shamt, 64) }

// Add emits add rd, rs1, rs2.
func (a *Asm) Add(rd, rs1, rs2 Reg) { a.r(opOp, 0, 0, rd, rs1, rs2) }

// Sub emits sub rd, rs1, rs2.
func (a *Asm) Sub(rd, rs1, rs2 Reg) { a.r(opOp, 0, 0x20, rd, rs1, rs2) }

// Sll emits sll rd, rs1, rs2.
func (a *Asm) Sll(rd, rs1, rs2 Reg) { a.r(opOp, 1, 0, rd, rs1, rs2) }

// Slt emits slt rd, rs1, rs2.
func (a *Asm) Slt(rd, rs1, rs2 Reg) { a.r(opOp, 2, 0, rd, rs1, rs2) }

// Sltu emits sltu rd, rs1, rs2.
func (a *Asm) Sltu(rd, rs1, rs2 Reg) { a.r(opOp, 3, 0, rd, rs1, rs2) }

// Xor emits xor rd, rs1, rs2.
func (a *Asm) Xor(rd, rs1, rs2 Reg) { a.r(opOp, 4, 0, rd, rs1, rs2) }

// Srl emits srl rd, rs1, rs2.
func (a *Asm) Srl(rd, rs1, rs2 Reg) { a.r(opOp, 5, 0, rd, rs1, rs2) }

// Sra emits sra rd, rs1, rs2.
func (a *Asm) Sra(rd, rs1, rs2 Reg) { a.r(opOp, 5, 0x20, rd, rs1, rs2) }

// Or emits or rd, rs1, rs2.
func (a *Asm) Or(rd, rs1, rs2 Reg) { a.r(opOp, 6, 0, rd, rs1, rs2) }

// And emits and rd, rs1, rs2.
func (a *Asm) And(rd, rs1, rs2 Reg) { a.r(opOp, 7, 0, rd, rs1, rs2) }

// Mul emits mul rd, rs1, rs2.
func (a *Asm) Mul(rd, rs1, rs2 Reg) { a.r(opOp, 0, 1, rd, rs1, rs2) }

// Mulh emits mulh rd, rs1, rs2.
func (a *Asm) Mulh(rd, rs1, rs2 Reg) { a.r(opOp, 1, 1, rd, rs1, rs2) }

// Mulhu emits mulhu rd, rs1, rs2.
func (a *Asm) Mulhu(rd, rs1, rs2 Reg) { a.r(opOp, 3, 1, rd, rs1, rs2) }

// Div emits div rd, rs1, rs2.
func (a *Asm) Div(rd, rs1, rs2 Reg) { a.r(opOp, 4, 1, rd, rs1, rs2) }

// Divu emits divu rd, rs1, rs2.
func (a *Asm) Divu(rd, rs1, rs2 Reg) { a.r(opOp, 5, 1, rd, rs1, rs2) }

// Rem emits rem rd, rs1, rs2.
func (a *Asm) Rem(rd, rs1, rs2 Reg) { a.r(opOp, 6, 1, rd, rs1, rs2) }

// Remu emits remu rd, rs1, rs2.
func (a *Asm) Remu(rd, rs1, rs2 Reg) { a.r(opOp, 7, 1, rd, rs1, rs2) }

// Addiw emits addiw rd, rs1, imm.
func (a *Asm) Addiw(rd, rs1 Reg, imm int64) { a.i(opImm32, 0, rd, rs1, imm) }

// Slliw emits slliw rd, rs1, shamt.
func (a *Asm) Slliw(rd, rs1 Reg, shamt uint32) { a.shift(opImm32, 1, 0, rd, rs1, shamt, 32) }

// Sraiw emits sraiw rd, rs1, shamt.
func (a *Asm) Sraiw(rd, rs1 Reg, shamt uint32) { a.shift(opImm32, 5, 0x10, rd, rs1, shamt, 32) }

// Addw emits addw rd, rs1, rs2.
func (a *Asm) Addw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 0, rd, rs1, rs2) }

// Subw emits subw rd, rs1, rs2.
func (a *Asm) Subw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 0x20, rd, rs1, rs2) }

// Mulw emits mulw rd, rs1, rs2.
func (a *Asm) Mulw(rd, rs1, rs2 Reg) { a.r(opOp32, 0, 1, rd, rs1, rs2) }

// Divw emits divw rd, rs1, rs2.
func (a *Asm) Divw(rd, rs1, rs2 Reg) { a.r(opOp32, 4, 1, rd, rs1, rs2) }

// Remuw emits remuw rd, rs1, rs2.
func (a *Asm) Remuw(rd, rs1, rs2 Reg) { a.r(opOp32, 7, 1, rd, rs1, rs2) }

// Mv emits mv rd, rs.
func (a *Asm) Mv(rd, rs Reg) { a.Addi(rd, rs, 0) }

// Nop emits nop.
func (a *Asm) Nop() { a.Addi(Zero, Zero, 0) }

// Ecall emits ecall.
func (a *Asm) Ecall() { a.Word(instECALL) }

// Ebreak emits ebreak.
func (a *Asm) Ebreak() { a.Word(instEBREAK) }

// Fence emits fence.
func (a *Asm) Fence() { a.Word(0x0ff0000f) }

// Rdtime emits rdtime rd.
func (a *Asm) Rdtime(rd Reg) { a.Word(encI(opSystem, 2, rd, Zero, csrTime)) }

// Li loads the constant v into rd using the shortest lui, addi(w) and
// slli sequence.
func (a *Asm) Li(rd Reg, v int64) {
	lo := sext(uint64(v)&0xfff, 12)
	if v == int64(int32(v)) {
		hi := uint32((uint64(v-lo) >> 12) & 0xfffff)
		switch {
		case hi == 0:
			a.Addi(rd, Zero, lo)
		case lo == 0:
			a.Lui(rd, hi)
		default:
			a.Lui(rd, hi)
			a.Addiw(rd, rd, lo)
		}
		return
	}
	// v - lo has twelve trailing zero bits; strip them and any more.
	hi := int64(uint64(v)-uint64(lo)) >> 12
	shift := uint32(12)
	for hi&1 == 0 {
		hi >>= 1
		shift++
	}
	a.Li(rd, hi)
	a.Slli(rd, rd, shift)
	if lo != 0 {
		a.Addi(rd, rd, lo)
	}
}

// La loads the address of label into rd, pc-relative.
func (a *Asm) La(rd Reg, label string) {
	a.fixups = append(a.fixups, fixup{kind: fixPCRel, index: len(a.words), label: label})
	a.Auipc(rd, 0)
	a.Addi(rd, rd, 0)
}

// Syscall loads id into a7 and emits ecall. Arguments go in a0 to a2.
func (a *Asm) Syscall(id uint64) {
	a.Li(A7, int64(id))
	a.Ecall()
}

// Assemble resolves labels and returns the code.
func (a *Asm) Assemble() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		pc := a.base + 4*uint64(f.index)
		off := int64(target - pc)
		w := a.words[f.index]
		switch f.kind {
		case fixBranch:
			if !fits(off, 13) || off%2 != 0 {
				return nil, fmt.Errorf("branch at %#x to %q: offset %d out of range", pc, f.label, off)
			}
			a.words[f.index] = w | encB(0, 0, 0, uint32(off))&^opBranch
		case fixJAL:
			if !fits(off, 21) || off%2 != 0 {
				return nil, fmt.Errorf("jump at %#x to %q: offset %d out of range", pc, f.label, off)
			}
			a.words[f.index] = w | encJ(0, uint32(off))&^opJAL
		case fixPCRel:
			if !fits(off, 32) {
				return nil, fmt.Errorf("address of %q from %#x: offset %d out of range", f.label, pc, off)
			}
			hi := (off + 0x800) >> 12
			lo := off - hi<<12
			a.words[f.index] = w | uint32(hi&0xfffff)<<12
			a.words[f.index+1] |= (uint32(lo) & 0xfff) << 20
		}
	}
	b := make([]byte, 4*len(a.words))
	for i, w := range a.words {
		hostarch.ByteOrder.PutUint32(b[4*i:], w)
	}
	return b, nil
}
