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
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/hostarch"
)

func TestTrapFrameLayout(t *testing.T) {
	var f TrapFrame
	for i := range f.X {
		f.X[i] = uint64(i)
	}
	f.Sstatus = 32
	f.Sepc = 33
	f.KernelSatp = 34
	f.KernelSP = 35
	f.TrapHandler = 36

	b := make([]byte, f.SizeBytes()+8)
	if rest := f.MarshalBytes(b); len(rest) != 8 {
		t.Errorf("MarshalBytes left %d bytes, want 8", len(rest))
	}
	for _, tc := range []struct {
		name string
		off  int
		want uint64
	}{
		{"x0", TrapFrameX, 0},
		{"sp", TrapFrameX + RegSP*8, 2},
		{"a7", TrapFrameX + RegA7*8, 17},
		{"sstatus", TrapFrameSstatus, 32},
		{"sepc", TrapFrameSepc, 33},
		{"kernel_satp", TrapFrameKernelSatp, 34},
		{"kernel_sp", TrapFrameKernelSP, 35},
		{"trap_handler", TrapFrameTrapHandler, 36},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := hostarch.ByteOrder.Uint64(b[tc.off:]); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}

	var g TrapFrame
	g.UnmarshalBytes(b)
	if diff := cmp.Diff(f, g); diff != "" {
		t.Errorf("UnmarshalBytes mismatch (-want +got):\n%s", diff)
	}
	if TrapFrameSize != 296 {
		t.Errorf("TrapFrameSize = %d, want 296", TrapFrameSize)
	}
}

func TestAppInitContext(t *testing.T) {
	f := AppInitContext(0x10000, 0x16000, 0x8000000000080123, 0x7fffffe000, 0x80200010)
	want := TrapFrame{
		Sstatus:     SstatusSPIE,
		Sepc:        0x10000,
		KernelSatp:  0x8000000000080123,
		KernelSP:    0x7fffffe000,
		TrapHandler: 0x80200010,
	}
	want.X[RegSP] = 0x16000
	if diff := cmp.Diff(want, f); diff != "" {
		t.Errorf("AppInitContext mismatch (-want +got):\n%s", diff)
	}
	if f.Sstatus&SstatusSPP != 0 {
		t.Errorf("SPP set: %#x", f.Sstatus)
	}
	if got := f.IP(); got != 0x10000 {
		t.Errorf("IP() = %#x, want 0x10000", got)
	}
}

func TestSyscallConvention(t *testing.T) {
	var f TrapFrame
	f.X[RegA7] = 64
	f.X[RegA0] = 1
	f.X[RegA1] = 0x11000
	f.X[RegA2] = ^uint64(0)
	if got := f.SyscallNo(); got != 64 {
		t.Errorf("SyscallNo() = %d, want 64", got)
	}
	args := f.SyscallArgs()
	if args[0].Int() != 1 || args[1].Pointer() != 0x11000 || args[2].Int64() != -1 {
		t.Errorf("SyscallArgs() = %v", args)
	}
	errno := int64(-14)
	f.SetReturn(uint64(errno))
	if got := int64(f.Return()); got != -14 {
		t.Errorf("Return() = %d, want -14", got)
	}
	if got := f.RegisterMap()["a1"]; got != 0x11000 {
		t.Errorf("RegisterMap()[a1] = %#x, want 0x11000", got)
	}
}

func TestCauseString(t *testing.T) {
	for _, tc := range []struct {
		cause Cause
		want  string
	}{
		{CauseUserEnvCall, "UserEnvCall"},
		{CauseStorePageFault, "StorePageFault"},
		{CauseSupervisorTimer, "SupervisorTimer"},
		{CauseInterrupt | 9, "Interrupt(9)"},
		{11, "Exception(11)"},
	} {
		if got := tc.cause.String(); got != tc.want {
			t.Errorf("Cause(%#x).String() = %q, want %q", uint64(tc.cause), got, tc.want)
		}
	}
	if CauseUserEnvCall.IsInterrupt() || !CauseSupervisorTimer.IsInterrupt() {
		t.Errorf("IsInterrupt is wrong")
	}
}

func TestSwitch(t *testing.T) {
	text := NewText(0x80200000)
	var (
		idle, a TaskContext
		trace   []string
	)
	text.SetHome(&idle)
	entry := text.Register("a", func() {
		trace = append(trace, "a1")
		text.Switch(&a, &idle)
		trace = append(trace, "a2")
		text.SwitchExit(&idle)
	})
	a = GotoTrapReturn(entry, 0x7fffffe000)
	if a.Started() {
		t.Fatalf("new context is started")
	}

	text.Switch(&idle, &a)
	trace = append(trace, "idle1")
	if !a.Started() {
		t.Errorf("parked context is not started")
	}
	text.Switch(&idle, &a)
	trace = append(trace, "idle2")

	if diff := cmp.Diff([]string{"a1", "idle1", "a2", "idle2"}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSwitchChain(t *testing.T) {
	// Three contexts pass control around a ring before returning home.
	text := NewText(0x80200000)
	var (
		idle  TaskContext
		ctxs  [3]TaskContext
		trace []int
	)
	text.SetHome(&idle)
	for i := range ctxs {
		entry := text.Register("ring", func() {
			for round := 0; round < 2; round++ {
				trace = append(trace, i)
				if i == len(ctxs)-1 {
					text.Switch(&ctxs[i], &idle)
				} else {
					text.Switch(&ctxs[i], &ctxs[i+1])
				}
			}
			text.SwitchExit(&idle)
		})
		ctxs[i] = GotoTrapReturn(entry, 0)
	}
	text.Switch(&idle, &ctxs[0])
	text.Switch(&idle, &ctxs[0])
	if diff := cmp.Diff([]int{0, 1, 2, 0, 1, 2}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestPanicForwarding(t *testing.T) {
	text := NewText(0x80200000)
	var idle, task TaskContext
	text.SetHome(&idle)
	sentinel := errors.New("sentinel")
	task = GotoTrapReturn(text.Register("boom", func() { panic(sentinel) }), 0)

	defer func() {
		r := recover()
		f, ok := r.(*Fault)
		if !ok {
			t.Fatalf("recovered %v, want *Fault", r)
		}
		if !errors.Is(f, sentinel) {
			t.Errorf("fault %v does not wrap the panic value", f)
		}
		if !strings.Contains(string(f.Stack), "panic") {
			t.Errorf("fault has no stack")
		}
	}()
	text.Switch(&idle, &task)
	t.Errorf("Switch returned")
}

func TestTextLookup(t *testing.T) {
	text := NewText(0x80200000)
	called := false
	first := text.Register("first", func() { called = true })
	second := text.Register("second", func() {})
	if first != 0x80200000 || second != 0x80200010 {
		t.Errorf("addresses: got %#x %#x", first, second)
	}
	text.Call(first)
	if !called {
		t.Errorf("Call did not call")
	}
	if got := text.Name(second); got != "second" {
		t.Errorf("Name(%#x) = %q", second, got)
	}
	want := []string{"0000000080200000 T first", "0000000080200010 T second"}
	if diff := cmp.Diff(want, text.Symbols()); diff != "" {
		t.Errorf("Symbols mismatch (-want +got):\n%s", diff)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Call of a bad address did not panic")
		}
	}()
	text.Call(0x80200008)
}
