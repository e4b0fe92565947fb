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

package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/platform"
)

// kernelPanic reports an unrecoverable error in the current task. It does
// not return; tests replace it.
var kernelPanic = func(format string, v ...any) {
	panic(fmt.Sprintf(format, v...))
}

// tickLog logs timer interrupts at most once per second.
var tickLog = log.BasicRateLimitedLogger(time.Second)

// Trap kinds, used as metric field values.
const (
	trapSyscall = "syscall"
	trapTimer   = "timer"
	trapFault   = "fault"
)

// fatal reports an unrecoverable error on behalf of the current task. If
// kernelPanic returns, the task is killed.
func (k *Kernel) fatal(format string, v ...any) {
	kernelPanic(format, v...)
	k.ExitCurrentAndRunNext(-1)
}

// SetTrapEntryKernel points stvec at the handler for traps taken in the
// kernel.
func (k *Kernel) SetTrapEntryKernel() {
	k.hart.SetStvec(k.trapFromKernelAddr)
}

// SetTrapEntryUser points stvec at the trampoline, for traps taken in user
// mode.
func (k *Kernel) SetTrapEntryUser() {
	k.hart.SetStvec(hostarch.Trampoline.Uint64())
}

// SetNextTrigger arms the timer one tick from now.
func (k *Kernel) SetNextTrigger() {
	k.hart.SetTimer(k.hart.Time() + k.tickInterval)
}

// TimeMs returns the milliseconds elapsed since boot.
func (k *Kernel) TimeMs() uint64 {
	return k.hart.Time() / (ClockFreq / 1000)
}

// TrapReturn is where every task's kernel context starts. It returns the
// running task to user mode, and runs the trap handler the trampoline
// jumps to each time the task traps back.
func (k *Kernel) TrapReturn() {
	for {
		k.SetTrapEntryUser()
		token := k.proc.CurrentUserToken()
		handler, err := k.hart.Restore(hostarch.TrapContext, token)
		if err != nil {
			if errors.Is(err, platform.ErrBudgetExhausted) {
				panic(err)
			}
			k.fatal("[pid %d] returning to user mode: %v", k.proc.current().PID(), err)
			continue
		}
		k.text.Call(handler)
	}
}

// TrapHandler handles a trap from user mode.
func (k *Kernel) TrapHandler() {
	k.SetTrapEntryKernel()
	cause := k.hart.Scause()
	stval := k.hart.Stval()
	switch cause {
	case arch.CauseUserEnvCall:
		k.stats.traps.Increment(trapSyscall)
		t := k.proc.current()
		tf := t.TrapFrame()
		tf.Sepc += arch.SyscallWidth
		t.SetTrapFrame(tf)
		ret := k.Syscall(tf.SyscallNo(), tf.SyscallArgs())
		// The syscall may have switched away; the frame is re-read in case
		// it changed.
		tf = t.TrapFrame()
		tf.SetReturn(uint64(ret))
		t.SetTrapFrame(tf)
	case arch.CauseSupervisorTimer:
		k.stats.traps.Increment(trapTimer)
		k.SetNextTrigger()
		tickLog.Debugf("Timer tick at %d", k.hart.Time())
		if k.preempt {
			k.SuspendCurrentAndRunNext()
		}
	default:
		k.stats.traps.Increment(trapFault)
		k.fatal("[pid %d] Unsupported trap %v, stval = %#x!", k.proc.current().PID(), cause, stval)
	}
}

// trapFromKernel handles a trap taken in the kernel, which is never
// expected.
func (k *Kernel) trapFromKernel() {
	panic(fmt.Sprintf("a trap from kernel: %v, stval = %#x", k.hart.Scause(), k.hart.Stval()))
}
