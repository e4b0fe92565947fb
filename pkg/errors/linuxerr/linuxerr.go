// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"),;
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

// Package linuxerr contains the syscall error codes used by the kernel,
// exported as error interface pointers so they compare cheaply and wrap
// cleanly with fmt.Errorf("...: %w").
package linuxerr

import (
	goerrors "errors"

	"github.com/prototypeos/kernel/pkg/errors"
	"golang.org/x/sys/unix"
)

// The following errors are semantically identical to the unix.Errno of the
// same name; Errno() returns that value.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
	EIO                   = errors.New(unix.EIO, "I/O error")
	ENOEXEC               = errors.New(unix.ENOEXEC, "exec format error")
	EBADF                 = errors.New(unix.EBADF, "bad file number")
	ECHILD                = errors.New(unix.ECHILD, "no child processes")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	EDEADLK               = errors.New(unix.EDEADLK, "resource deadlock would occur")
	ENOSYS                = errors.New(unix.ENOSYS, "invalid system call number")
)

var errorSlice = map[unix.Errno]*errors.Error{
	unix.EPERM:   EPERM,
	unix.ESRCH:   ESRCH,
	unix.EIO:     EIO,
	unix.ENOEXEC: ENOEXEC,
	unix.EBADF:   EBADF,
	unix.ECHILD:  ECHILD,
	unix.EAGAIN:  EAGAIN,
	unix.ENOMEM:  ENOMEM,
	unix.EFAULT:  EFAULT,
	unix.EBUSY:   EBUSY,
	unix.EINVAL:  EINVAL,
	unix.EDEADLK: EDEADLK,
	unix.ENOSYS:  ENOSYS,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// linuxerr counterpart are returned as-is.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorSlice[err]; ok {
		return e
	}
	return err
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error, looking through wrapping.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == noError
	}
	if goerrors.Is(err, e) {
		return true
	}
	var unixErr unix.Errno
	return goerrors.As(err, &unixErr) && unixErr == ToUnix(e)
}

// TranslateError extracts the errno carried by err, which may be wrapped.
func TranslateError(err error) (*errors.Error, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e, true
	}
	var unixErr unix.Errno
	if goerrors.As(err, &unixErr) {
		if e, ok := errorSlice[unixErr]; ok {
			return e, true
		}
	}
	return nil, false
}

// SyscallReturn converts a syscall result into the value placed in the
// return register: the result itself on success, or the negated errno.
// Errors that carry no errno become -EINVAL.
func SyscallReturn(rval int64, err error) int64 {
	if err == nil {
		return rval
	}
	if e, ok := TranslateError(err); ok {
		return -int64(e.Errno())
	}
	return -int64(unix.EINVAL)
}
