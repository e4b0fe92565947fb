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

package arch

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

// TrapFrameSize is the size of a marshalled TrapFrame.
const TrapFrameSize = 37 * 8

// Offsets of the TrapFrame fields in its marshalled form. The trampoline
// addresses fields by these offsets.
const (
	TrapFrameX           = 0
	TrapFrameSstatus     = 32 * 8
	TrapFrameSepc        = 33 * 8
	TrapFrameKernelSatp  = 34 * 8
	TrapFrameKernelSP    = 35 * 8
	TrapFrameTrapHandler = 36 * 8
)

// TrapFrame is the user state saved on entry to the kernel, stored in each
// task's trap context page. The last three fields never change after
// creation: they tell the trampoline how to enter the kernel.
type TrapFrame struct {
	// X holds the general purpose registers. X[0] is always zero.
	X [32]uint64

	Sstatus uint64
	Sepc    uint64

	// KernelSatp activates the kernel address space.
	KernelSatp uint64

	// KernelSP is the top of the task's kernel stack.
	KernelSP uint64

	// TrapHandler is the kernel text address of the trap handler.
	TrapHandler uint64
}

// AppInitContext returns the frame that starts a task at entry in user
// mode, with its stack pointer at sp. SPP is clear so that sret enters user
// mode, and SPIE is set so that interrupts are enabled there.
func AppInitContext(entry, sp hostarch.VirtAddr, kernelSatp, kernelSP, trapHandler uint64) TrapFrame {
	f := TrapFrame{
		Sstatus:     SstatusSPIE,
		Sepc:        entry.Uint64(),
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	f.SetStack(sp.Uint64())
	return f
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (f *TrapFrame) SizeBytes() int {
	return TrapFrameSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (f *TrapFrame) MarshalBytes(dst []byte) []byte {
	for _, x := range f.X {
		hostarch.ByteOrder.PutUint64(dst[:8], x)
		dst = dst[8:]
	}
	for _, v := range [...]uint64{f.Sstatus, f.Sepc, f.KernelSatp, f.KernelSP, f.TrapHandler} {
		hostarch.ByteOrder.PutUint64(dst[:8], v)
		dst = dst[8:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (f *TrapFrame) UnmarshalBytes(src []byte) []byte {
	for i := range f.X {
		f.X[i] = hostarch.ByteOrder.Uint64(src[:8])
		src = src[8:]
	}
	for _, v := range [...]*uint64{&f.Sstatus, &f.Sepc, &f.KernelSatp, &f.KernelSP, &f.TrapHandler} {
		*v = hostarch.ByteOrder.Uint64(src[:8])
		src = src[8:]
	}
	return src
}

// SyscallNo returns the syscall number according to the RISC-V convention.
func (f *TrapFrame) SyscallNo() uint64 {
	return f.X[RegA7]
}

// SyscallArgs provides syscall arguments according to the RISC-V
// convention: a0, a1 and a2.
func (f *TrapFrame) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: f.X[RegA0]},
		SyscallArgument{Value: f.X[RegA1]},
		SyscallArgument{Value: f.X[RegA2]},
	}
}

// Return returns the return value for a system call.
func (f *TrapFrame) Return() uint64 {
	return f.X[RegA0]
}

// SetReturn sets the return value for a system call.
func (f *TrapFrame) SetReturn(value uint64) {
	f.X[RegA0] = value
}

// IP returns the current instruction pointer.
func (f *TrapFrame) IP() uint64 {
	return f.Sepc
}

// SetIP sets the current instruction pointer.
func (f *TrapFrame) SetIP(value uint64) {
	f.Sepc = value
}

// Stack returns the current stack pointer.
func (f *TrapFrame) Stack() uint64 {
	return f.X[RegSP]
}

// SetStack sets the current stack pointer.
func (f *TrapFrame) SetStack(value uint64) {
	f.X[RegSP] = value
}

// RegisterMap returns a map of all registers.
func (f *TrapFrame) RegisterMap() map[string]uint64 {
	m := make(map[string]uint64, len(regNames)+2)
	for i, name := range regNames {
		m[name] = f.X[i]
	}
	m["sstatus"] = f.Sstatus
	m["sepc"] = f.Sepc
	return m
}

// String implements fmt.Stringer.
func (f *TrapFrame) String() string {
	return fmt.Sprintf("sepc=%#x sp=%#x a0=%#x a7=%d", f.Sepc, f.X[RegSP], f.X[RegA0], f.X[RegA7])
}
