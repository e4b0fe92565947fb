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

package boot

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/sentry/platform/hart"
	"github.com/prototypeos/kernel/pkg/sentry/syscalls/linux"
)

// AppBase is the entry point of every built-in app.
const AppBase = hostarch.VirtAddr(0x10000)

// App is a built-in user program.
type App struct {
	Name        string
	Description string
	build       func(p *hart.Program)
}

// Image assembles the app.
func (a App) Image() (Image, error) {
	p := hart.NewProgram(AppBase)
	a.build(p)
	b, err := p.Image()
	if err != nil {
		return Image{}, fmt.Errorf("building app %q: %w", a.Name, err)
	}
	return Image{Name: a.Name, Data: b}, nil
}

// Apps are the built-in apps, run in this order when no image is given.
var Apps = []App{
	{
		Name:        "hello",
		Description: "writes a greeting and exits",
		build: func(p *hart.Program) {
			const msg = "Hello, world!\n"
			p.Data("msg", []byte(msg))
			write(p, "msg", len(msg))
			exit(p, 0)
		},
	},
	{
		Name:        "yield_a",
		Description: "writes A five times, yielding after each",
		build:       printer("A", 5),
	},
	{
		Name:        "yield_b",
		Description: "writes B five times, yielding after each",
		build:       printer("B", 5),
	},
	{
		Name:        "sleep",
		Description: "yields until 10ms have passed",
		build: func(p *hart.Program) {
			const msg = "Test sleep OK!\n"
			p.Data("msg", []byte(msg))
			p.Syscall(linux.SysGetTime)
			p.Addi(hart.S0, hart.A0, 10)
			p.Label("wait")
			p.Syscall(linux.SysGetTime)
			p.Bgeu(hart.A0, hart.S0, "done")
			p.Syscall(linux.SysSchedYield)
			p.J("wait")
			p.Label("done")
			write(p, "msg", len(msg))
			exit(p, 0)
		},
	},
	{
		Name:        "getpid",
		Description: "exits with its pid",
		build: func(p *hart.Program) {
			p.Syscall(linux.SysGetpid)
			p.Syscall(linux.SysExit)
		},
	},
}

// LookupApp returns the built-in app called name.
func LookupApp(name string) (App, bool) {
	for _, a := range Apps {
		if a.Name == name {
			return a, true
		}
	}
	return App{}, false
}

func write(p *hart.Program, label string, n int) {
	p.Li(hart.A0, linux.Stdout)
	p.La(hart.A1, label)
	p.Li(hart.A2, int64(n))
	p.Syscall(linux.SysWrite)
}

func exit(p *hart.Program, code int64) {
	p.Li(hart.A0, code)
	p.Syscall(linux.SysExit)
}

func printer(msg string, n int64) func(p *hart.Program) {
	return func(p *hart.Program) {
		p.Data("msg", []byte(msg))
		p.Li(hart.S0, n)
		p.Label("loop")
		write(p, "msg", len(msg))
		p.Syscall(linux.SysSchedYield)
		p.Addi(hart.S0, hart.S0, -1)
		p.Bnez(hart.S0, "loop")
		exit(p, 0)
	}
}
