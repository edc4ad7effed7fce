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

/*
Package fmutex provides a blocking mutual-exclusion lock that owns its
protected value and parks contending threads directly on a kernel
futex word.

	m := fmutex.New(0)

	g := m.Lock()
	g.Set(g.Get() + 1)
	g.Unlock()

A [Mutex] owns exactly one payload and one 32-bit lock word, each on
its own stable allocation. Locking yields a [Guard], which is the sole
means of payload access while it is alive; unlocking the guard
releases the lock and, only when contention was observed, issues a
single wake syscall. A never-contended lock is acquired and released
with two atomic operations and zero kernel entries.

The lock word moves between three states: unlocked (0), locked with no
known waiters (1), and contested (2, locked with at least one thread
that is or was recently blocked). The contested state is advisory
contention metadata rather than a waiter count; it is what lets a
releasing thread skip the wake syscall when nothing can be waiting.

The lock is not re-entrant: a thread that locks a Mutex it already
holds blocks forever. There is no reader/writer distinction, no
fairness guarantee among waiters beyond what the kernel provides, and
no poisoned state.
*/
package fmutex

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/field-eng-futex/futex"
)

// Lock word states. The word never exceeds contested: it records that
// waiters may exist, not how many.
const (
	unlocked  = 0
	locked    = 1
	contested = 2
)

var (
	// ErrWouldBlock is returned by [Mutex.TryLock] when the lock is
	// currently held. Retry policy belongs to the caller.
	ErrWouldBlock = errors.New("lock is held: acquiring would block")

	// ErrTimeout is returned by [Mutex.LockTimeout] when the lock
	// could not be acquired within the caller's budget.
	ErrTimeout = errors.New("lock not acquired in time")
)

// A Mutex owns a payload of type T and controls access to it through
// the [Mutex.Lock], [Mutex.TryLock], and [Mutex.LockTimeout] methods.
// The payload and the lock word live on separate heap allocations, so
// both addresses are stable for the life of the Mutex; the wait
// primitive sleeps on the word's address and a [Guard] retains the
// payload's address while held.
//
// A Mutex is safe for concurrent use and must not be copied after it
// has been created.
type Mutex[T any] struct {
	val    *T
	word   *atomic.Uint32
	fu     futex.WaitWaker
	events *Events
}

// New constructs a [Mutex] owning the initial payload value, backed
// by the real futex syscall.
func New[T any](initial T) *Mutex[T] {
	return NewWith(initial, futex.System())
}

// NewWith constructs a [Mutex] that blocks and wakes through the
// given [futex.WaitWaker]. It exists so that the locking protocol can
// be exercised with a fake that counts invocations instead of
// entering the kernel.
func NewWith[T any](initial T, fu futex.WaitWaker) *Mutex[T] {
	return &Mutex[T]{
		val:  &initial,
		word: new(atomic.Uint32),
		fu:   fu,
	}
}

// SetEvents allows contention-monitoring callbacks to be injected
// into the Mutex. This method should be called before the Mutex is
// first locked.
func (m *Mutex[T]) SetEvents(events *Events) {
	m.events = events
}

// Lock acquires the lock, blocking the calling thread until it is
// available, and returns the [Guard] that proves exclusive ownership
// of the payload. The uncontended path is a single compare-and-swap
// with no syscall.
//
// A thread that calls Lock on a Mutex it already holds blocks
// forever; there is no deadlock detection.
func (m *Mutex[T]) Lock() *Guard[T] {
	if m.word.CompareAndSwap(unlocked, locked) {
		return m.newGuard()
	}
	m.lockSlow(nil)
	return m.newGuard()
}

// TryLock acquires the lock only if it is immediately available. It
// never blocks and never retries internally: a held lock, including
// one lost to a race, returns [ErrWouldBlock].
func (m *Mutex[T]) TryLock() (*Guard[T], error) {
	if m.word.CompareAndSwap(unlocked, locked) {
		return m.newGuard(), nil
	}
	return nil, ErrWouldBlock
}

// LockTimeout acquires the lock as [Mutex.Lock] does, but gives up
// and returns [ErrTimeout] if the lock has not been acquired within
// d. A wait that times out before the overall budget is spent only
// causes the state to be re-checked; it is not itself a failure.
func (m *Mutex[T]) LockTimeout(d time.Duration) (*Guard[T], error) {
	if m.word.CompareAndSwap(unlocked, locked) {
		return m.newGuard(), nil
	}
	deadline := time.Now().Add(d)
	if !m.lockSlow(&deadline) {
		return nil, ErrTimeout
	}
	return m.newGuard(), nil
}

// lockSlow is the contended acquisition loop. A nil deadline blocks
// until the lock is held; otherwise lockSlow reports whether the lock
// was acquired before the deadline.
//
// Every acquisition through this path leaves the word at contested
// rather than locked: a thread arriving here cannot know whether
// other waiters remain, so it assumes they do and propagates that
// pessimism to the next release. The cost is an occasional
// unnecessary wake; the benefit is that a necessary wake is never
// skipped.
func (m *Mutex[T]) lockSlow(deadline *time.Time) bool {
	m.events.doContended()
	c := m.word.Load()
	for {
		// Announce contention while someone else holds the lock,
		// then sleep. The kernel re-checks the word before actually
		// blocking, so a release between the CAS and the wait is
		// never missed. A nil return from Wait proves nothing; the
		// loop re-checks state regardless.
		if c == contested || (c == locked && m.word.CompareAndSwap(locked, contested)) {
			var timeout *futex.Timeout
			if deadline != nil {
				remaining := time.Until(*deadline)
				if remaining <= 0 {
					return false
				}
				timeout = futex.TimeoutFor(remaining)
			}
			m.events.doWait()
			_ = m.fu.Wait(m.word, contested, timeout)
		}
		if m.word.CompareAndSwap(unlocked, contested) {
			return true
		}
		if deadline != nil && !time.Now().Before(*deadline) {
			return false
		}
		c = m.word.Load()
	}
}

func (m *Mutex[T]) newGuard() *Guard[T] {
	return &Guard[T]{
		ptr:    m.val,
		word:   m.word,
		fu:     m.fu,
		events: m.events,
	}
}

// A Guard is a transient capability proving exclusive ownership of a
// [Mutex]'s payload. It is created only by a successful lock
// acquisition and must be released exactly once with [Guard.Unlock].
// While alive it is the sole means of payload access; the payload
// pointer it carries must never be retained beyond the guard's life.
//
// A Guard must not be copied.
type Guard[T any] struct {
	ptr    *T
	word   *atomic.Uint32
	fu     futex.WaitWaker
	events *Events
}

// Get returns a copy of the payload.
func (g *Guard[T]) Get() T { return *g.ptr }

// Set replaces the payload.
func (g *Guard[T]) Set(v T) { *g.ptr = v }

// Ptr returns the payload itself, for in-place mutation. The pointer
// is valid only while the guard is held.
func (g *Guard[T]) Ptr() *T { return g.ptr }

// Unlock releases the lock. If no thread marked contention while the
// lock was held, the release is a single atomic decrement with no
// syscall; otherwise the word is forced to unlocked and all sleepers
// are woken to race for the lock.
//
// Unlock touches only the lock word and the wait primitive, never the
// payload: it remains correct even if the payload has already been
// mutated into an invalid state or abandoned by its owner.
//
// The guard is dead after Unlock returns. Unlocking twice or touching
// the payload through a dead guard is a precondition violation, not a
// reported error.
func (g *Guard[T]) Unlock() {
	// Decrement-and-check rather than store-then-wake: when the
	// pre-decrement value was locked, nothing can be waiting, since
	// a waiter would have forced the word to contested before
	// sleeping.
	if g.word.Add(^uint32(0)) != unlocked {
		g.word.Store(unlocked)
		woken, _ := g.fu.Wake(g.word, futex.WakeAll, nil)
		g.events.doWake(woken)
	}
	g.ptr = nil
	g.word = nil
}
