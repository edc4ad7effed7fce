// Copyright 2025 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package futex wraps the Linux futex(2) system call behind a small
// capability interface. A futex is a 32-bit word that the kernel can
// put a thread to sleep on and on which another thread can request
// that sleepers be woken; threads sleep on a memory address, not on a
// handle.
//
// Only the FUTEX_WAIT and FUTEX_WAKE operations are exposed; that is
// all the lock in the fmutex package requires. The [WaitWaker]
// interface exists so that code built on these two operations can be
// exercised with a counting fake instead of making real blocking
// syscalls.
//
// This package is Linux-only.
package futex

import (
	"errors"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex opcodes from <linux/futex.h>.
const (
	opWait = 0 // FUTEX_WAIT
	opWake = 1 // FUTEX_WAKE
)

// WakeAll requests that every thread sleeping on a word be woken.
const WakeAll = math.MaxInt32

// ErrTimedOut is returned by [WaitWaker.Wait] when the supplied
// timeout elapsed before the caller was woken.
var ErrTimedOut = errors.New("futex wait timed out")

// A Timeout bounds how long a wait may block. The zero value means
// zero time; a nil *Timeout means "wait indefinitely".
type Timeout struct {
	Sec  int64
	Nsec int64
}

// TimeoutFor converts a duration into a [Timeout].
func TimeoutFor(d time.Duration) *Timeout {
	return &Timeout{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}
}

// A WaitWaker provides word-based blocking and wakeup. The production
// implementation is [System]; tests may substitute an implementation
// that records invocations.
type WaitWaker interface {
	// Wait blocks the calling thread if, at the instant of the
	// kernel's check, the value at word equals expected. It returns
	// when the thread is woken, when the value did not match, or
	// spuriously. A nil return carries no information about the
	// word's current value: callers must re-check their condition
	// and loop. A non-nil return is [ErrTimedOut] if the timeout
	// elapsed, or an unexpected kernel error.
	Wait(word *atomic.Uint32, expected uint32, timeout *Timeout) error

	// Wake wakes up to count threads sleeping on word and returns
	// the number woken. It never blocks; waking with no sleepers is
	// a no-op returning zero. The timeout argument exists for
	// symmetry with Wait and is ignored.
	Wake(word *atomic.Uint32, count uint32, timeout *Timeout) (int, error)
}

// System returns the [WaitWaker] backed by the real futex syscall.
func System() WaitWaker { return sysFutex{} }

type sysFutex struct{}

func (sysFutex) Wait(word *atomic.Uint32, expected uint32, timeout *Timeout) error {
	var ts *unix.Timespec
	if timeout != nil {
		ts = &unix.Timespec{Sec: timeout.Sec, Nsec: timeout.Nsec}
	}
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)), opWait, uintptr(expected),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	switch errno {
	case 0:
		return nil
	case unix.EAGAIN, unix.EINTR:
		// The word no longer held the expected value, or the wait
		// was interrupted by a signal. Either way the caller has to
		// re-check state, exactly as after a spurious wakeup.
		return nil
	case unix.ETIMEDOUT:
		return ErrTimedOut
	default:
		return errno
	}
}

func (sysFutex) Wake(word *atomic.Uint32, count uint32, _ *Timeout) (int, error) {
	woken, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)), opWake, uintptr(count),
		0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(woken), nil
}
