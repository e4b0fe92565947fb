// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlagSet(t *testing.T, values map[string]string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, value := range values {
		if err := testFlags.Set(name, value); err != nil {
			t.Fatalf("Flag set %s=%q: %v", name, value, err)
		}
	}
	return testFlags
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.IdlePolicy != IdleShutdown {
		t.Errorf("IdlePolicy=%v, want: %v", c.IdlePolicy, IdleShutdown)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, map[string]string{
		"debug":         "true",
		"max-tasks":     "8",
		"idle-policy":   "panic",
		"tick-interval": "1000",
		"preempt":       "true",
		"memory-end":    "0x80400000",
	}))
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Debug:        true,
		LogFormat:    "text",
		KernelEnd:    0x80280000,
		MemoryEnd:    0x80400000,
		MaxTasks:     8,
		IdlePolicy:   IdlePanic,
		TickInterval: 1000,
		Preempt:      true,
	}
	if diff := cmp.Diff(want, *c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, map[string]string{
		"debug":       "true",
		"preempt":     "false", // Matches default value.
		"max-tasks":   "123",
		"idle-policy": "panic",
	}))
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	t.Logf("Flags: %s", flags)
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.Split(f, "=")
		fm[kv[0]] = kv[1]
	}
	want := map[string]string{
		"--debug":       "true",
		"--max-tasks":   "123",
		"--idle-policy": "panic",
	}
	if diff := cmp.Diff(want, fm); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
}

// TestToFlagsRoundTrip checks that ToFlags output parses back to the same
// configuration.
func TestToFlagsRoundTrip(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, map[string]string{
		"log-format":         "json",
		"instruction-budget": "5000",
		"metrics":            "-",
	}))
	if err != nil {
		t.Fatal(err)
	}
	testFlags := newFlagSet(t, nil)
	if err := testFlags.Parse(c.ToFlags()); err != nil {
		t.Fatal(err)
	}
	got, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

// TestInvalidFlags checks that enum flags fail when value is not in enum set.
func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
		error string
	}{
		{
			name:  "idle-policy",
			value: "invalid",
			error: "invalid idle policy",
		},
		{
			name:  "max-tasks",
			value: "-1",
			error: "parse error",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet(t, nil)
			if err := testFlags.Lookup(tc.name).Value.Set(tc.value); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("flag.Value.Set(invalid) wrong error reported: %v", err)
			}
		})
	}
}

func TestValidationFail(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
		error string
	}{
		{
			name:  "log-format",
			flags: map[string]string{"log-format": "xml"},
			error: "invalid log format",
		},
		{
			name:  "unaligned",
			flags: map[string]string{"memory-end": "0x88000001"},
			error: "must be page aligned",
		},
		{
			name:  "empty memory",
			flags: map[string]string{"kernel-end": "0x88000000"},
			error: "must be above kernel-end",
		},
		{
			name:  "max-tasks",
			flags: map[string]string{"max-tasks": "0"},
			error: "max-tasks must be positive",
		},
		{
			name:  "preempt without timer",
			flags: map[string]string{"preempt": "true"},
			error: "preempt requires a tick-interval",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFromFlags(newFlagSet(t, tc.flags)); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v", err)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
debug = true
max-tasks = 16
idle-policy = "panic"
tick-interval = 125000
memory-end = 0x80800000
`)
	for _, tc := range []struct {
		name  string
		flags map[string]string
		want  Config
	}{
		{
			name:  "file only",
			flags: map[string]string{"config": path},
			want: Config{
				File:         path,
				Debug:        true,
				LogFormat:    "text",
				KernelEnd:    0x80280000,
				MemoryEnd:    0x80800000,
				MaxTasks:     16,
				IdlePolicy:   IdlePanic,
				TickInterval: 125000,
			},
		},
		{
			name: "flags override file",
			flags: map[string]string{
				"config":      path,
				"max-tasks":   "4",
				"idle-policy": "shutdown",
				"debug":       "false",
			},
			want: Config{
				File:         path,
				LogFormat:    "text",
				KernelEnd:    0x80280000,
				MemoryEnd:    0x80800000,
				MaxTasks:     4,
				IdlePolicy:   IdleShutdown,
				TickInterval: 125000,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewFromFlags(newFlagSet(t, tc.flags))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, *c); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{
			name:     "unknown key",
			contents: "max-task = 3\n",
			error:    "unknown keys max-task",
		},
		{
			name:     "bad policy",
			contents: "idle-policy = \"sleep\"\n",
			error:    "invalid idle policy",
		},
		{
			name:     "syntax",
			contents: "debug = \n",
			error:    "decoding config file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			_, err := NewFromFlags(newFlagSet(t, map[string]string{"config": path}))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v", err)
			}
		})
	}
}

func TestClone(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, map[string]string{"max-tasks": "7"}))
	if err != nil {
		t.Fatal(err)
	}
	clone := c.Clone()
	if clone == c {
		t.Fatalf("Clone returned the same pointer")
	}
	if !reflect.DeepEqual(c, clone) {
		t.Errorf("Clone() = %+v, want %+v", clone, c)
	}
	clone.MaxTasks = 1
	if c.MaxTasks != 7 {
		t.Errorf("modifying the clone changed the original: MaxTasks=%d", c.MaxTasks)
	}
}
