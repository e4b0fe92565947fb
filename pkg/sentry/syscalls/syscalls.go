// Copyright 2018 Google LLC
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

// Package syscalls is the interface from the application to the kernel.
// Traditionally, syscalls is the interface that is used by applications to
// request services from the kernel of a operating system. The tasks here
// are user programs that trap into the kernel with ecall; this package
// holds helpers for building the tables that serve those requests.
package syscalls

import (
	"github.com/prototypeos/kernel/pkg/sentry/arch"
	"github.com/prototypeos/kernel/pkg/sentry/kernel"
)

// Supported returns a syscall that is fully supported.
func Supported(name string, fn kernel.SyscallFn) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn:   fn,
	}
}

// Error returns a syscall handler that will always give the passed error.
func Error(name string, err error) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn: func(*kernel.Task, arch.SyscallArguments) (uint64, error) {
			return 0, err
		},
	}
}

// Stub returns a syscall handler that does nothing and returns rval.
func Stub(name string, rval uint64) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn: func(*kernel.Task, arch.SyscallArguments) (uint64, error) {
			return rval, nil
		},
	}
}
