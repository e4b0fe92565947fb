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

// Package cmd holds implementations of the runsc commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/loader"
	"github.com/prototypeos/kernel/runsc/boot"
	"golang.org/x/sync/errgroup"
)

// Fatalf logs the same message to the log and to stderr, and exits with
// status 128.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "FATAL ERROR: %s\n", msg)
	os.Exit(128)
}

// loadImages reads and validates the ELF files at paths, and builds the
// built-in apps named in apps (a comma-separated list), concurrently. Files
// come first in the result, in order, followed by the apps.
func loadImages(ctx context.Context, paths []string, apps string) ([]boot.Image, error) {
	var names []string
	if apps != "" {
		names = strings.Split(apps, ",")
	}
	imgs := make([]boot.Image, len(paths)+len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if _, err := loader.Parse(b); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			imgs[i] = boot.Image{Name: path, Data: b}
			return nil
		})
	}
	for i, name := range names {
		g.Go(func() error {
			app, ok := boot.LookupApp(name)
			if !ok {
				return fmt.Errorf("unknown app %q", name)
			}
			img, err := app.Image()
			if err != nil {
				return err
			}
			imgs[len(paths)+i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return imgs, nil
}

// allApps returns the names of every built-in app as a comma-separated list.
func allApps() string {
	names := make([]string, 0, len(boot.Apps))
	for _, a := range boot.Apps {
		names = append(names, a.Name)
	}
	return strings.Join(names, ",")
}
