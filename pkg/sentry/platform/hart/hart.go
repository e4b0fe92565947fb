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

// Package hart implements platform.Hart with an interpreter: an RV64IM
// core running in user mode, with the supervisor CSRs the kernel uses and
// an Sv39 MMU reading page tables from physical memory.
//
// The time counter advances by one per retired instruction.
package hart

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
	"github.com/prototypeos/kernel/pkg/sentry/platform"
)

// sie bits.
const sieSTIE = 1 << 5

// Hart is an interpreted hart. It is not safe for concurrent use, which
// matches how a hart is used: by whichever kernel context runs on it.
type Hart struct {
	mem *pgalloc.MemoryFile

	x  [32]uint64
	pc uint64

	satp     uint64
	stvec    uint64
	sepc     uint64
	scause   arch.Cause
	stval    uint64
	sstatus  uint64
	sie      uint64
	stimecmp uint64
	time     uint64

	// user is set while executing in user mode.
	user bool

	tlb tlb

	// budget bounds time; zero means no bound.
	budget uint64

	stats Stats
}

// Stats are counters maintained by the hart.
type Stats struct {
	// Instructions is the number of retired instructions.
	Instructions uint64

	// Traps is the number of traps taken.
	Traps uint64

	// TLBHits and TLBMisses count translations.
	TLBHits   uint64
	TLBMisses uint64
}

var _ platform.Hart = (*Hart)(nil)

// New returns a hart whose physical bus is mem. Translation is off and no
// timer is armed.
func New(mem *pgalloc.MemoryFile) *Hart {
	return &Hart{
		mem:      mem,
		stimecmp: ^uint64(0),
		tlb:      newTLB(),
	}
}

// SetBudget bounds the number of instructions the hart retires over its
// lifetime. Zero removes the bound.
func (h *Hart) SetBudget(n uint64) {
	h.budget = n
}

// Stats returns a snapshot of the hart's counters.
func (h *Hart) Stats() Stats {
	s := h.stats
	s.Instructions = h.time
	return s
}

// WriteSatp implements platform.Hart.WriteSatp.
func (h *Hart) WriteSatp(satp uint64) {
	h.satp = satp
}

// Satp returns the current satp.
func (h *Hart) Satp() uint64 {
	return h.satp
}

// SfenceVMA implements platform.Hart.SfenceVMA.
func (h *Hart) SfenceVMA() {
	h.tlb.flush()
}

// SetStvec implements platform.Hart.SetStvec. Only direct mode is
// supported, so the low two bits are ignored.
func (h *Hart) SetStvec(addr uint64) {
	h.stvec = addr &^ 3
}

// Stvec returns the current trap vector.
func (h *Hart) Stvec() uint64 {
	return h.stvec
}

// Scause implements platform.Hart.Scause.
func (h *Hart) Scause() arch.Cause {
	return h.scause
}

// Stval implements platform.Hart.Stval.
func (h *Hart) Stval() uint64 {
	return h.stval
}

// Sepc returns the pc of the last trap.
func (h *Hart) Sepc() uint64 {
	return h.sepc
}

// Time implements platform.Hart.Time.
func (h *Hart) Time() uint64 {
	return h.time
}

// SetTimer implements platform.Hart.SetTimer.
func (h *Hart) SetTimer(deadline uint64) {
	h.stimecmp = deadline
}

// EnableTimerInterrupt implements platform.Hart.EnableTimerInterrupt.
func (h *Hart) EnableTimerInterrupt() {
	h.sie |= sieSTIE
}

func (h *Hart) timerPending() bool {
	return h.sie&sieSTIE != 0 && h.time >= h.stimecmp
}

// Restore implements platform.Hart.Restore.
func (h *Hart) Restore(trapCx hostarch.VirtAddr, userSatp uint64) (uint64, error) {
	if h.stvec != hostarch.Trampoline.Uint64() {
		return 0, fmt.Errorf("stvec %#x: %w", h.stvec, platform.ErrBadTrapEntry)
	}
	// __restore: switch to the user address space, then load the frame.
	h.WriteSatp(userSatp)
	h.SfenceVMA()
	var frame arch.TrapFrame
	buf := make([]byte, arch.TrapFrameSize)
	if cause, ok := h.supervisorAccess(trapCx, buf, pagetables.Readable); !ok {
		return 0, fmt.Errorf("reading trap frame at %v: %v: %w", trapCx, cause, platform.ErrBadTrapFrame)
	}
	frame.UnmarshalBytes(buf)
	if frame.Sstatus&arch.SstatusSPP != 0 {
		return 0, fmt.Errorf("sstatus %#x: %w", frame.Sstatus, platform.ErrSupervisorReturn)
	}
	h.x = frame.X
	h.x[0] = 0
	h.sstatus = frame.Sstatus
	h.sepc = frame.Sepc
	h.sret()

	if err := h.run(); err != nil {
		return 0, err
	}

	// __alltraps: save the user state into the frame, which is still
	// addressable through the user address space, then switch to the
	// kernel address space.
	frame.X = h.x
	frame.Sstatus = h.sstatus
	frame.Sepc = h.sepc
	frame.MarshalBytes(buf)
	if cause, ok := h.supervisorAccess(trapCx, buf, pagetables.Writable); !ok {
		return 0, fmt.Errorf("writing trap frame at %v: %v: %w", trapCx, cause, platform.ErrBadTrapFrame)
	}
	h.WriteSatp(frame.KernelSatp)
	h.SfenceVMA()
	return frame.TrapHandler, nil
}

// sret returns to the privilege in SPP at sepc.
func (h *Hart) sret() {
	s := h.sstatus
	s &^= arch.SstatusSIE
	if s&arch.SstatusSPIE != 0 {
		s |= arch.SstatusSIE
	}
	s |= arch.SstatusSPIE
	s &^= arch.SstatusSPP
	h.sstatus = s
	h.pc = h.sepc
	h.user = true
}

// trap enters supervisor mode at stvec from user mode.
func (h *Hart) trap(cause arch.Cause, tval uint64) {
	h.sepc = h.pc
	h.scause = cause
	h.stval = tval
	s := h.sstatus &^ (arch.SstatusSPIE | arch.SstatusSPP)
	if s&arch.SstatusSIE != 0 {
		s |= arch.SstatusSPIE
	}
	h.sstatus = s &^ arch.SstatusSIE
	h.pc = h.stvec
	h.user = false
	h.stats.Traps++
	log.Debugf("Trap %v tval %#x at pc %#x", cause, tval, h.sepc)
}

// run executes user instructions until the next trap.
func (h *Hart) run() error {
	for h.user {
		// Supervisor interrupts are always enabled in user mode.
		if h.timerPending() {
			h.trap(arch.CauseSupervisorTimer, 0)
			break
		}
		if h.budget != 0 && h.time >= h.budget {
			h.user = false
			return fmt.Errorf("after %d instructions at pc %#x: %w", h.time, h.pc, platform.ErrBudgetExhausted)
		}
		h.step()
	}
	return nil
}

// supervisorAccess reads or writes b at va with supervisor privilege, as
// the trampoline does. b may span pages. On failure it returns the
// exception the access raises.
func (h *Hart) supervisorAccess(va hostarch.VirtAddr, b []byte, access pagetables.PTEFlags) (arch.Cause, bool) {
	for len(b) > 0 {
		n := min(uint64(len(b)), hostarch.PageSize-va.PageOffset())
		pa, cause, ok := h.translate(va.Uint64(), access, false)
		if !ok {
			return cause, false
		}
		var err error
		if access == pagetables.Writable {
			err = h.mem.WritePhys(pa, b[:n])
		} else {
			err = h.mem.ReadPhys(pa, b[:n])
		}
		if err != nil {
			_, bus := faultFor(access)
			return bus, false
		}
		b = b[n:]
		va += hostarch.VirtAddr(n)
	}
	return 0, true
}
