// Copyright 2018 The gVisor Authors.
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

// Package arch provides abstractions around architecture-dependent details:
// the trap frame saved on every entry from user mode, the syscall calling
// convention, and the kernel context switch.
package arch

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
)

// General purpose register numbers.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA7   = 17
)

// regNames are the ABI names of the general purpose registers.
var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of register r.
func RegName(r int) string {
	return regNames[r]
}

// SyscallWidth is the width of the ecall instruction.
const SyscallWidth = 4

// sstatus bits.
const (
	SstatusSIE  = 1 << 1
	SstatusSPIE = 1 << 5
	SstatusSPP  = 1 << 8
)

// Cause is a scause value.
type Cause uint64

// CauseInterrupt is set in the causes of interrupts.
const CauseInterrupt Cause = 1 << 63

// Exception and interrupt causes.
const (
	CauseInstructionMisaligned Cause = 0
	CauseInstructionFault      Cause = 1
	CauseIllegalInstruction    Cause = 2
	CauseBreakpoint            Cause = 3
	CauseLoadMisaligned        Cause = 4
	CauseLoadFault             Cause = 5
	CauseStoreMisaligned       Cause = 6
	CauseStoreFault            Cause = 7
	CauseUserEnvCall           Cause = 8
	CauseInstructionPageFault  Cause = 12
	CauseLoadPageFault         Cause = 13
	CauseStorePageFault        Cause = 15

	CauseSupervisorTimer = CauseInterrupt | 5
)

var causeNames = map[Cause]string{
	CauseInstructionMisaligned: "InstructionMisaligned",
	CauseInstructionFault:      "InstructionFault",
	CauseIllegalInstruction:    "IllegalInstruction",
	CauseBreakpoint:            "Breakpoint",
	CauseLoadMisaligned:        "LoadMisaligned",
	CauseLoadFault:             "LoadFault",
	CauseStoreMisaligned:       "StoreMisaligned",
	CauseStoreFault:            "StoreFault",
	CauseUserEnvCall:           "UserEnvCall",
	CauseInstructionPageFault:  "InstructionPageFault",
	CauseLoadPageFault:         "LoadPageFault",
	CauseStorePageFault:        "StorePageFault",
	CauseSupervisorTimer:       "SupervisorTimer",
}

// IsInterrupt returns true for interrupt causes.
func (c Cause) IsInterrupt() bool {
	return c&CauseInterrupt != 0
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	if n, ok := causeNames[c]; ok {
		return n
	}
	if c.IsInterrupt() {
		return fmt.Sprintf("Interrupt(%d)", uint64(c&^CauseInterrupt))
	}
	return fmt.Sprintf("Exception(%d)", uint64(c))
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name***
// and they convert to the closest Go type available.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uint64
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [3]SyscallArgument

// Pointer returns the hostarch.VirtAddr representation of a pointer
// argument.
func (a SyscallArgument) Pointer() hostarch.VirtAddr {
	return hostarch.VirtAddr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return a.Value
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}
