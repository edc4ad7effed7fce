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

package futex

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A wait on a word that does not hold the expected value must return
// immediately rather than sleep.
func TestWaitValueMismatch(t *testing.T) {
	a := assert.New(t)

	var word atomic.Uint32 // holds 0
	start := time.Now()
	a.NoError(System().Wait(&word, 1, nil))
	a.Less(time.Since(start), time.Second)
}

func TestWakeWithoutWaiters(t *testing.T) {
	a := assert.New(t)

	var word atomic.Uint32
	woken, err := System().Wake(&word, WakeAll, nil)
	a.NoError(err)
	a.Zero(woken)
}

func TestWakeAfterWait(t *testing.T) {
	r := require.New(t)

	var word atomic.Uint32
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait returns nil on wakeup, value change, or spuriously
		// (e.g. runtime preemption signals), so the condition must
		// be re-checked in a loop.
		for word.Load() == 0 {
			assert.NoError(t, System().Wait(&word, 0, nil))
		}
	}()

	// Give the waiter a moment to reach the kernel, then release it.
	// Wake before wait is a legal race: the kernel re-checks the
	// word, so we keep waking until the waiter reports back.
	time.Sleep(10 * time.Millisecond)
	word.Store(1)
	for {
		_, err := System().Wake(&word, WakeAll, nil)
		r.NoError(err)
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWaitTimeout(t *testing.T) {
	a := assert.New(t)

	var word atomic.Uint32
	word.Store(1)

	// A signal interruption surfaces as a nil return, so the timeout
	// may take several calls to be observed.
	start := time.Now()
	var err error
	for err == nil {
		err = System().Wait(&word, 1, TimeoutFor(50*time.Millisecond))
	}
	a.ErrorIs(err, ErrTimedOut)
	a.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}

func TestTimeoutFor(t *testing.T) {
	tests := []struct {
		name      string
		d         time.Duration
		sec, nsec int64
	}{
		{"zero", 0, 0, 0},
		{"millis", 250 * time.Millisecond, 0, 250_000_000},
		{"seconds", 2 * time.Second, 2, 0},
		{"mixed", 1500 * time.Millisecond, 1, 500_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := assert.New(t)
			to := TimeoutFor(tt.d)
			a.Equal(tt.sec, to.Sec)
			a.Equal(tt.nsec, to.Nsec)
		})
	}
}
