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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/runsc/boot"
	"github.com/prototypeos/kernel/runsc/config"
)

const banner = `
__________                __          __                        ________    _________
\______   \_______  _____/  |_  _____/  |_ ___.__.______   ____ \_____  \  /   _____/
 |     ___/\_  __ \/  _ \   __\/  _ \   __<   |  |\____ \_/ __ \ /   |   \ \_____  \
 |    |     |  | \(  <_> )  | (  <_> )  |  \___  ||  |_> >  ___//    |    \/        \
 |____|     |__|   \____/|__|  \____/|__|  / ____||   __/ \___  >_______  /_______  /
                                           \/     |__|        \/        \/        \/
`

// Boot implements subcommands.Command for the "boot" command which starts
// the kernel and runs tasks until none is left.
type Boot struct {
	// apps is a comma-separated list of built-in apps to run.
	apps string

	// listApps lists the built-in apps instead of booting.
	listApps bool

	// quiet suppresses the banner.
	quiet bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run tasks to completion"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] [ELF file...] - boot the kernel and run the given executables, then the built-in apps selected with -apps.
With no files and no -apps, every built-in app runs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.apps, "apps", "", "comma-separated list of built-in apps to run.")
	f.BoolVar(&b.listApps, "list-apps", false, "list the built-in apps and exit.")
	f.BoolVar(&b.quiet, "quiet", false, "do not print the banner.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	if b.listApps {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, a := range boot.Apps {
			fmt.Fprintf(tw, "%s\t%s\n", a.Name, a.Description)
		}
		tw.Flush()
		return subcommands.ExitSuccess
	}

	apps := b.apps
	if apps == "" && f.NArg() == 0 {
		apps = allApps()
	}
	imgs, err := loadImages(ctx, f.Args(), apps)
	if err != nil {
		Fatalf("loading images: %v", err)
	}
	log.Debugf("Booting with flags %v", conf.ToFlags())

	l, err := boot.New(boot.Args{Conf: conf, Console: os.Stdout, Images: imgs})
	if err != nil {
		Fatalf("creating loader: %v", err)
	}
	defer l.Destroy()

	if !b.quiet {
		fmt.Fprint(os.Stdout, banner)
	}
	runErr := l.Run()
	for _, r := range l.Results() {
		log.Infof("[pid %d] %s: %v, exit code %d", r.PID, r.Name, r.Status, r.ExitCode)
	}
	if err := writeMetrics(l.Config().Metrics, l); err != nil {
		log.Warningf("Writing metrics: %v", err)
	}
	if runErr != nil {
		log.Warningf("Kernel stopped: %v", runErr)
		fmt.Fprintf(os.Stderr, "kernel stopped: %v\n", runErr)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// writeMetrics writes l's metrics to path, or stdout if path is "-".
func writeMetrics(path string, l *boot.Loader) error {
	var w io.Writer
	switch path {
	case "":
		return nil
	case "-":
		w = os.Stdout
	default:
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return l.WriteMetrics(w)
}
