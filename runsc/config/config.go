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

// Package config provides basic infrastructure to set configuration settings
// for the kernel. Configuration is set from command line flags, optionally
// on top of a TOML file.
package config

import (
	"fmt"
	"reflect"

	"github.com/mohae/deepcopy"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
)

// Config holds configuration that is not part of the task images.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name, and a toml tag with the key used
//     in configuration files.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// File is the TOML file the configuration was read from, if any.
	File string `flag:"config" toml:"-"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// KernelEnd is the first physical address past the kernel image. Frames
	// are allocated from here up to MemoryEnd.
	KernelEnd uint64 `flag:"kernel-end" toml:"kernel-end"`

	// MemoryEnd is the end of physical memory.
	MemoryEnd uint64 `flag:"memory-end" toml:"memory-end"`

	// MaxTasks is the number of pid and kernel stack slots.
	MaxTasks uint `flag:"max-tasks" toml:"max-tasks"`

	// IdlePolicy is what the scheduler does when no task is ready.
	IdlePolicy IdlePolicy `flag:"idle-policy" toml:"idle-policy"`

	// TickInterval is the number of time units between timer interrupts.
	// Zero disables the timer.
	TickInterval uint64 `flag:"tick-interval" toml:"tick-interval"`

	// Preempt makes the timer suspend the running task on every tick.
	Preempt bool `flag:"preempt" toml:"preempt"`

	// InstructionBudget bounds the number of instructions the hart retires
	// before the kernel gives up. Zero means no bound.
	InstructionBudget uint64 `flag:"instruction-budget" toml:"instruction-budget"`

	// Metrics is where kernel metrics are written when the kernel stops,
	// "-" for stdout. Empty disables them.
	Metrics string `flag:"metrics" toml:"metrics"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case log.TextFormat, log.JSONFormat:
	default:
		return fmt.Errorf("invalid log format %q, must be %q or %q", c.LogFormat, log.TextFormat, log.JSONFormat)
	}
	if c.KernelEnd%hostarch.PageSize != 0 || c.MemoryEnd%hostarch.PageSize != 0 {
		return fmt.Errorf("kernel-end (%#x) and memory-end (%#x) must be page aligned", c.KernelEnd, c.MemoryEnd)
	}
	if c.MemoryEnd <= c.KernelEnd {
		return fmt.Errorf("memory-end (%#x) must be above kernel-end (%#x)", c.MemoryEnd, c.KernelEnd)
	}
	if c.MaxTasks == 0 {
		return fmt.Errorf("max-tasks must be positive")
	}
	if c.Preempt && c.TickInterval == 0 {
		return fmt.Errorf("preempt requires a tick-interval")
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}

// IdlePolicy is what the scheduler does when the ready queue is empty.
type IdlePolicy int

const (
	// IdleShutdown stops the scheduler. Live but unrunnable tasks are
	// reported as a deadlock.
	IdleShutdown IdlePolicy = iota

	// IdlePanic panics the kernel.
	IdlePanic
)

func idlePolicyPtr(v IdlePolicy) *IdlePolicy {
	return &v
}

// Set implements flag.Value.
func (p *IdlePolicy) Set(v string) error {
	switch v {
	case "shutdown":
		*p = IdleShutdown
	case "panic":
		*p = IdlePanic
	default:
		return fmt.Errorf("invalid idle policy %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (p *IdlePolicy) Get() any {
	return *p
}

// String implements flag.Value.
func (p IdlePolicy) String() string {
	switch p {
	case IdleShutdown:
		return "shutdown"
	case IdlePanic:
		return "panic"
	}
	panic(fmt.Sprintf("Invalid idle policy %d", p))
}

// UnmarshalText implements encoding.TextUnmarshaler, for configuration
// files.
func (p *IdlePolicy) UnmarshalText(b []byte) error {
	return p.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (p IdlePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
