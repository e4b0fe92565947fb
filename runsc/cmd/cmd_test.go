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
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/runsc/boot"
	"github.com/prototypeos/kernel/runsc/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	conf.MemoryEnd = conf.KernelEnd + 256*hostarch.PageSize
	return conf
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	hello, _ := boot.LookupApp("hello")
	img, err := hello.Image()
	if err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "hello.elf")
	if err := os.WriteFile(good, img.Data, 0644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.elf")
	if err := os.WriteFile(bad, []byte("not an elf"), 0644); err != nil {
		t.Fatal(err)
	}

	imgs, err := loadImages(context.Background(), []string{good}, "getpid,hello")
	if err != nil {
		t.Fatalf("loadImages failed: %v", err)
	}
	var names []string
	for _, img := range imgs {
		names = append(names, img.Name)
	}
	if diff := cmp.Diff([]string{good, "getpid", "hello"}, names); diff != "" {
		t.Errorf("image names mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(imgs[0].Data, imgs[2].Data) {
		t.Errorf("file and app images differ")
	}

	for _, tc := range []struct {
		name  string
		paths []string
		apps  string
		check func(error) bool
	}{
		{
			name:  "bad file",
			paths: []string{bad},
			check: func(err error) bool { return errors.Is(err, linuxerr.ENOEXEC) },
		},
		{
			name:  "missing file",
			paths: []string{filepath.Join(dir, "missing")},
			check: func(err error) bool { return errors.Is(err, os.ErrNotExist) },
		},
		{
			name:  "unknown app",
			apps:  "hello,nope",
			check: func(err error) bool { return err != nil && strings.Contains(err.Error(), `unknown app "nope"`) },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadImages(context.Background(), tc.paths, tc.apps); !tc.check(err) {
				t.Errorf("loadImages: unexpected error %v", err)
			}
		})
	}
}

func TestPrintMaps(t *testing.T) {
	for _, tc := range []struct {
		app  string
		ptes bool
		want []string
	}{
		{
			want: []string{".text", "[trampoline]"},
		},
		{
			app:  "hello",
			ptes: true,
			want: []string{"user stack", "trap context", "[trampoline]"},
		},
	} {
		t.Run(tc.app, func(t *testing.T) {
			var b bytes.Buffer
			if err := printMaps(context.Background(), &b, testConfig(t), tc.app, tc.ptes); err != nil {
				t.Fatalf("printMaps failed: %v", err)
			}
			for _, s := range tc.want {
				if !strings.Contains(b.String(), s) {
					t.Errorf("maps missing %q:\n%s", s, b.String())
				}
			}
		})
	}
}

func TestSyscallsOutput(t *testing.T) {
	info, err := getCompatibilityInfo("linux")
	if err != nil {
		t.Fatalf("getCompatibilityInfo failed: %v", err)
	}
	var b bytes.Buffer
	if err := outputCSV(&b, info); err != nil {
		t.Fatalf("outputCSV failed: %v", err)
	}
	want := `Table,Num,Name
linux,63,read
linux,64,write
linux,93,exit
linux,124,sched_yield
linux,169,get_time
linux,172,getpid
`
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}

	if _, err := getCompatibilityInfo("nope"); err == nil {
		t.Errorf("getCompatibilityInfo(nope) succeeded")
	}
}
