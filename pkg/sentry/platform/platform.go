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

// Package platform provides a Platform abstraction.
//
// The kernel runs on a single hart. This package describes what the kernel
// needs from it: address translation control, the trap entry and exit
// path, and a timer.
package platform

import (
	"errors"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
)

// Hart is a hardware thread.
type Hart interface {
	// WriteSatp installs the given address translation root.
	WriteSatp(satp uint64)

	// SfenceVMA invalidates all cached translations.
	SfenceVMA()

	// SetStvec sets the address traps are taken to.
	SetStvec(addr uint64)

	// Restore performs the trampoline's return to user mode: it switches
	// to the address space userSatp, restores the registers saved in the
	// trap frame at trapCx and executes sret. It returns when the hart
	// next traps back, with the user state saved in the same trap frame,
	// the trap frame's kernel address space active, and the address of
	// the trap handler from the frame to jump to.
	//
	// The trap cause is available from Scause and Stval until the next
	// call to Restore.
	Restore(trapCx hostarch.VirtAddr, userSatp uint64) (handler uint64, err error)

	// Scause returns the cause of the last trap.
	Scause() arch.Cause

	// Stval returns the trap value of the last trap.
	Stval() uint64

	// Time returns the value of the time counter.
	Time() uint64

	// SetTimer arranges for a timer interrupt once Time reaches deadline.
	SetTimer(deadline uint64)

	// EnableTimerInterrupt unmasks the supervisor timer interrupt.
	EnableTimerInterrupt()
}

var (
	// ErrBadTrapEntry is returned by Hart.Restore if stvec does not point
	// at the trampoline.
	ErrBadTrapEntry = errors.New("trap entry is not the trampoline")

	// ErrBadTrapFrame is returned by Hart.Restore if the trap frame is not
	// accessible.
	ErrBadTrapFrame = errors.New("trap frame is not accessible")

	// ErrSupervisorReturn is returned by Hart.Restore if the saved status
	// would return to supervisor mode.
	ErrSupervisorReturn = errors.New("sret to supervisor mode")

	// ErrBudgetExhausted is returned by Hart.Restore when the hart has
	// retired its instruction budget.
	ErrBudgetExhausted = errors.New("instruction budget exhausted")
)
