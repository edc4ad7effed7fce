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

package fmutex

// Events provides a [Mutex] with optional callbacks to monitor lock
// contention. The uncontended paths invoke no callbacks.
//
// See [Mutex.SetEvents].
type Events struct {
	// OnContended is invoked when an acquisition misses the fast
	// path and enters the contended loop.
	OnContended func()
	// OnWait is invoked immediately before each sleep on the lock
	// word. A single contended acquisition may wait several times.
	OnWait func()
	// OnWake is invoked after a release woke sleeping waiters, with
	// the number of threads the kernel reported woken.
	OnWake func(woken int)
}

func (e *Events) doContended() {
	if e != nil && e.OnContended != nil {
		e.OnContended()
	}
}

func (e *Events) doWait() {
	if e != nil && e.OnWait != nil {
		e.OnWait()
	}
}

func (e *Events) doWake(woken int) {
	if e != nil && e.OnWake != nil {
		e.OnWake(woken)
	}
}
