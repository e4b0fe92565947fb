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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/prototypeos/kernel/pkg/sentry/mm"
	"github.com/prototypeos/kernel/runsc/boot"
	"github.com/prototypeos/kernel/runsc/config"
)

// Maps implements subcommands.Command for the "maps" command, which prints
// the areas of an address space and, optionally, its page table entries.
type Maps struct {
	app  string
	ptes bool
}

// Name implements subcommands.Command.Name.
func (*Maps) Name() string {
	return "maps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Maps) Synopsis() string {
	return "print the memory map of the kernel or of a built-in app"
}

// Usage implements subcommands.Command.Usage.
func (*Maps) Usage() string {
	return `maps [-app <name>] [-ptes] - print the kernel address space, or the address space of a freshly loaded app.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Maps) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.app, "app", "", "built-in app whose address space to print instead of the kernel's.")
	f.BoolVar(&m.ptes, "ptes", false, "also print the leaf page table entries.")
}

// Execute implements subcommands.Command.Execute.
func (m *Maps) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := printMaps(ctx, os.Stdout, conf, m.app, m.ptes); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func printMaps(ctx context.Context, w io.Writer, conf *config.Config, app string, ptes bool) error {
	imgs, err := loadImages(ctx, nil, app)
	if err != nil {
		return err
	}
	l, err := boot.New(boot.Args{Conf: conf, Images: imgs})
	if err != nil {
		return err
	}
	defer l.Destroy()

	show := func(ms *mm.MemorySet) {
		w.Write(ms.MapsText())
		if ptes {
			io.WriteString(w, "\n")
			w.Write(ms.PTEText())
		}
	}
	if app == "" {
		l.Kernel().WithKernelSpace(show)
		return nil
	}
	t, _ := l.Task(app)
	show(t.MemorySet())
	return nil
}
