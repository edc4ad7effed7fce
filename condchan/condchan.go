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

// Package condchan provides an unbounded producer/consumer channel
// built on a mutex and a condition variable. It shares no data
// structures with the fmutex package; senders never block on
// capacity, and receivers block until an element is available.
package condchan

import "sync"

// entry is a node in the FIFO list of undelivered values.
type entry[T any] struct {
	val  T
	next *entry[T]
}

// shared is the state common to the sender and receiver halves.
// Values are delivered in the order they were sent.
type shared[T any] struct {
	notEmpty *sync.Cond

	mu struct {
		sync.Mutex
		head *entry[T]
		tail *entry[T]
	}
}

// New constructs the two halves of a channel. Both halves may be
// shared across goroutines.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &shared[T]{}
	s.notEmpty = sync.NewCond(&s.mu)
	return &Sender[T]{s}, &Receiver[T]{s}
}

// A Sender appends values to the channel.
type Sender[T any] struct {
	shared *shared[T]
}

// Send appends a value and releases one blocked receiver, if any.
// It never blocks waiting for a receiver.
func (s *Sender[T]) Send(val T) {
	e := &entry[T]{val: val}
	sh := s.shared
	sh.mu.Lock()
	if sh.mu.tail == nil {
		sh.mu.head = e
	} else {
		sh.mu.tail.next = e
	}
	sh.mu.tail = e
	sh.mu.Unlock()
	sh.notEmpty.Signal()
}

// A Receiver removes values from the channel.
type Receiver[T any] struct {
	shared *shared[T]
}

// Recv removes and returns the oldest value, blocking until one is
// available.
func (r *Receiver[T]) Recv() T {
	sh := r.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for sh.mu.head == nil {
		sh.notEmpty.Wait()
	}
	return sh.pop()
}

// TryRecv removes and returns the oldest value without blocking. The
// bool return value reports whether a value was available.
func (r *Receiver[T]) TryRecv() (T, bool) {
	sh := r.shared
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.mu.head == nil {
		return *new(T), false
	}
	return sh.pop(), true
}

// pop removes the head entry. Callers must hold mu and have checked
// that the list is non-empty.
func (sh *shared[T]) pop() T {
	e := sh.mu.head
	sh.mu.head = e.next
	if sh.mu.head == nil {
		sh.mu.tail = nil
	}
	e.next = nil
	return e.val
}
