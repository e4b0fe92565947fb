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

// Package boot loads the kernel and runs user tasks.
package boot

import (
	"fmt"
	"io"

	"github.com/prototypeos/kernel/pkg/cleanup"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/log"
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
	"github.com/prototypeos/kernel/pkg/sentry/mm"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
	"github.com/prototypeos/kernel/pkg/sentry/platform/hart"
	"github.com/prototypeos/kernel/pkg/sentry/syscalls/linux"
	"github.com/prototypeos/kernel/runsc/config"
)

// Image is an executable to run as a task.
type Image struct {
	// Name identifies the image in logs and results.
	Name string

	// Data is the ELF file.
	Data []byte
}

// Args are the arguments for New.
type Args struct {
	Conf *config.Config

	// Console receives everything tasks write.
	Console io.Writer

	// Images are loaded as tasks in order, so the first becomes the init
	// task.
	Images []Image
}

// Loader keeps state needed to start the kernel and run its tasks.
type Loader struct {
	// k is the kernel.
	k *kernel.Kernel

	conf *config.Config

	// mf is physical memory.
	mf *pgalloc.MemoryFile

	hart *hart.Hart

	// tasks are the loaded tasks. The loader holds a reference on each so
	// exit codes can be read once they have run.
	tasks []loadedTask
}

type loadedTask struct {
	name string
	t    *kernel.Task
}

// Result is the outcome of one task.
type Result struct {
	Name     string
	PID      uint64
	Status   kernel.TaskStatus
	ExitCode int32
}

// Layout returns the memory layout described by conf.
func Layout(conf *config.Config) *mm.Layout {
	l := mm.DefaultLayout
	l.KernelEnd = hostarch.PhysAddr(conf.KernelEnd)
	l.MemoryEnd = hostarch.PhysAddr(conf.MemoryEnd)
	return &l
}

// New initializes a new kernel configured by args.Conf and loads
// args.Images into it.
func New(args Args) (*Loader, error) {
	conf := args.Conf.Clone()
	layout := Layout(conf)
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory layout: %w", err)
	}

	mf, err := pgalloc.NewMemoryFile(layout.KernelEnd, layout.MemoryEnd)
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}
	cu := cleanup.Make(func() { mf.Destroy() })
	defer cu.Clean()

	h := hart.New(mf)
	h.SetBudget(conf.InstructionBudget)

	console := args.Console
	if console == nil {
		console = io.Discard
	}
	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		Layout:       layout,
		MemoryFile:   mf,
		Hart:         h,
		SyscallTable: linux.RISCV64.Name,
		Console:      console,
		MaxTasks:     uint32(conf.MaxTasks),
		IdlePolicy:   kernel.IdlePolicy(conf.IdlePolicy.String()),
		TickInterval: conf.TickInterval,
		Preempt:      conf.Preempt,
	}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	cu.Add(k.Destroy)

	l := &Loader{
		k:    k,
		conf: conf,
		mf:   mf,
		hart: h,
	}
	cu.Add(l.releaseTasks)
	for _, img := range args.Images {
		t, err := k.NewTask(img.Data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", img.Name, err)
		}
		log.Infof("Loaded %q as pid %d", img.Name, t.PID())
		l.tasks = append(l.tasks, loadedTask{name: img.Name, t: t})
	}
	// Nothing is queued until every image has loaded, so a failure above
	// leaves the loader's references as the only ones.
	for _, lt := range l.tasks {
		lt.t.IncRef()
		k.AddTask(lt.t)
	}

	cu.Release()
	return l, nil
}

// Kernel returns the kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Config returns the loader's copy of the configuration.
func (l *Loader) Config() *config.Config {
	return l.conf
}

// Hart returns the hart tasks run on.
func (l *Loader) Hart() *hart.Hart {
	return l.hart
}

// Task returns the first loaded task called name. The loader keeps its
// reference.
func (l *Loader) Task(name string) (*kernel.Task, bool) {
	for _, lt := range l.tasks {
		if lt.name == name {
			return lt.t, true
		}
	}
	return nil, false
}

// Run runs tasks until none is ready.
func (l *Loader) Run() error {
	log.Infof("Running %d tasks", len(l.tasks))
	if err := l.k.RunTasks(); err != nil {
		return err
	}
	s := l.hart.Stats()
	log.Infof("All tasks done: %d instructions, %d traps, %d TLB misses", s.Instructions, s.Traps, s.TLBMisses)
	return nil
}

// Results returns the state of every loaded task, in load order.
func (l *Loader) Results() []Result {
	rs := make([]Result, 0, len(l.tasks))
	for _, lt := range l.tasks {
		rs = append(rs, Result{
			Name:     lt.name,
			PID:      lt.t.PID(),
			Status:   lt.t.Status(),
			ExitCode: lt.t.ExitCode(),
		})
	}
	return rs
}

// WriteMetrics writes the kernel's metrics in Prometheus text format.
func (l *Loader) WriteMetrics(w io.Writer) error {
	return l.k.Metrics().WriteText(w)
}

func (l *Loader) releaseTasks() {
	for _, lt := range l.tasks {
		lt.t.DecRef()
	}
	l.tasks = nil
}

// Destroy cleans up all resources used by the loader.
func (l *Loader) Destroy() {
	l.releaseTasks()
	if n := l.k.LiveTasks(); n != 0 {
		// Tasks that never ran to completion still own their frames; the
		// whole of physical memory goes away below.
		log.Warningf("Destroying loader with %d live tasks", n)
	} else {
		l.k.Destroy()
	}
	if err := l.mf.Destroy(); err != nil {
		log.Warningf("Destroying physical memory: %v", err)
	}
}
