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

package boot

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
	"github.com/prototypeos/kernel/runsc/config"
)

func init() {
	log.SetLevel(log.Debug)
}

// testConfig returns the default configuration with a small memory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	conf.MemoryEnd = conf.KernelEnd + 1024*hostarch.PageSize
	return conf
}

func appImages(t *testing.T, names ...string) []Image {
	t.Helper()
	var imgs []Image
	for _, name := range names {
		app, ok := LookupApp(name)
		if !ok {
			t.Fatalf("no app %q", name)
		}
		img, err := app.Image()
		if err != nil {
			t.Fatal(err)
		}
		imgs = append(imgs, img)
	}
	return imgs
}

// TestRun runs every built-in app and checks that they succeed.
func TestRun(t *testing.T) {
	var names []string
	for _, a := range Apps {
		names = append(names, a.Name)
	}
	var console bytes.Buffer
	l, err := New(Args{Conf: testConfig(t), Console: &console, Images: appImages(t, names...)})
	if err != nil {
		t.Fatalf("error creating loader: %v", err)
	}
	defer l.Destroy()

	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got, want := console.String(), "Hello, world!\nABABABABABTest sleep OK!\n"; got != want {
		t.Errorf("console: got %q, want %q", got, want)
	}
	want := []Result{
		{Name: "hello", PID: 0, Status: kernel.TaskZombie},
		{Name: "yield_a", PID: 1, Status: kernel.TaskZombie},
		{Name: "yield_b", PID: 2, Status: kernel.TaskZombie},
		{Name: "sleep", PID: 3, Status: kernel.TaskZombie},
		{Name: "getpid", PID: 4, Status: kernel.TaskZombie, ExitCode: 4},
	}
	if diff := cmp.Diff(want, l.Results()); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if got := l.Kernel().LiveTasks(); got != 0 {
		t.Errorf("live tasks: got %d, want 0", got)
	}

	var metrics bytes.Buffer
	if err := l.WriteMetrics(&metrics); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	for _, line := range []string{
		`kernel_syscalls_total{syscall="getpid"} 1`,
		"kernel_tasks_alive 0",
	} {
		if !strings.Contains(metrics.String(), line) {
			t.Errorf("metrics missing %q:\n%s", line, metrics.String())
		}
	}
}

func TestNewErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(c *config.Config)
		images []Image
		want   error
	}{
		{
			name:   "bad image",
			images: []Image{{Name: "junk", Data: []byte("#!/bin/sh\n")}},
			want:   linuxerr.ENOEXEC,
		},
		{
			name:   "bad image after good ones",
			images: append(appImages(t, "hello", "yield_a"), Image{Name: "junk", Data: []byte{0x7f, 'E', 'L', 'F'}}),
			want:   linuxerr.ENOEXEC,
		},
		{
			name:   "too many tasks",
			modify: func(c *config.Config) { c.MaxTasks = 1 },
			images: appImages(t, "hello", "hello"),
			want:   linuxerr.EAGAIN,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := testConfig(t)
			if tc.modify != nil {
				tc.modify(conf)
			}
			l, err := New(Args{Conf: conf, Images: tc.images})
			if err == nil {
				l.Destroy()
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("New: got err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConfigSnapshot(t *testing.T) {
	conf := testConfig(t)
	l, err := New(Args{Conf: conf, Images: appImages(t, "hello")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Destroy()
	want := conf.Clone()
	conf.MaxTasks = 1
	conf.Metrics = "/dev/null"
	if l.Config() == conf {
		t.Fatalf("loader shares the caller's config")
	}
	if diff := cmp.Diff(want, l.Config()); diff != "" {
		t.Errorf("loader config changed with the caller's (-want +got):\n%s", diff)
	}
}

func TestBadLayout(t *testing.T) {
	conf := testConfig(t)
	conf.KernelEnd = 0x80100000
	if _, err := New(Args{Conf: conf}); err == nil || !strings.Contains(err.Error(), "invalid memory layout") {
		t.Errorf("New: got err %v, want an invalid layout", err)
	}
}
