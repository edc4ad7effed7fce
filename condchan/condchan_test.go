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

package condchan

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSendRecv(t *testing.T) {
	a := assert.New(t)

	tx, rx := New[int]()
	tx.Send(4123)
	a.Equal(4123, rx.Recv())
}

func TestFIFOOrder(t *testing.T) {
	a := assert.New(t)

	tx, rx := New[int]()
	for i := 0; i < 100; i++ {
		tx.Send(i)
	}
	for i := 0; i < 100; i++ {
		a.Equal(i, rx.Recv())
	}
	_, ok := rx.TryRecv()
	a.False(ok)
}

func TestTryRecvEmpty(t *testing.T) {
	a := assert.New(t)

	_, rx := New[string]()
	v, ok := rx.TryRecv()
	a.False(ok)
	a.Empty(v)
}

// A receiver on an empty channel must block rather than fail.
func TestRecvBlocksWhenEmpty(t *testing.T) {
	r := require.New(t)

	tx, rx := New[int]()

	var finished atomic.Bool
	got := make(chan int, 1)
	go func() {
		got <- rx.Recv()
		finished.Store(true)
	}()

	// The receiver should still be parked after a short delay.
	time.Sleep(50 * time.Millisecond)
	r.False(finished.Load())

	tx.Send(7)
	select {
	case v := <-got:
		r.Equal(7, v)
	case <-time.After(10 * time.Second):
		r.Fail("receiver did not observe the sent value")
	}
}

func TestCrossGoroutine(t *testing.T) {
	const numValues = 1000

	r := require.New(t)
	tx, rx := New[int]()

	eg := &errgroup.Group{}
	eg.Go(func() error {
		for i := 0; i < numValues; i++ {
			tx.Send(i)
		}
		return nil
	})

	sum := 0
	for i := 0; i < numValues; i++ {
		sum += rx.Recv()
	}
	r.NoError(eg.Wait())
	r.Equal(numValues*(numValues-1)/2, sum)
}
