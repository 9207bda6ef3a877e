// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: June 2026
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

package keyval

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLTEDecrement validates the conditional decrement contract:
//   - the decrement applies only when amount <= current value
//   - an exact-amount decrement succeeds and leaves zero
//   - the transaction status key flips in the same operation
//   - the committed bookkeeping counter mirrors successful debits
func TestLTEDecrement(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "item1", "stock", "10"))

		ok, err := m.LTEDecrement(ctx, "item1", "stock", 4, "tid1")
		require.NoError(t, err)
		require.True(t, ok)

		v, _, err := m.GetAttr(ctx, "item1", "stock")
		require.NoError(t, err)
		require.Equal(t, "6", v)

		status, _, err := m.GetAttr(ctx, "tid1", "status")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, status)

		committed, _, err := m.GetAttr(ctx, "item1", "committed_stock")
		require.NoError(t, err)
		require.Equal(t, "4", committed)
	})

	t.Run("ExactAmount", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "item1", "stock", "5"))

		ok, err := m.LTEDecrement(ctx, "item1", "stock", 5, "tid1")
		require.NoError(t, err)
		require.True(t, ok)

		v, _, _ := m.GetAttr(ctx, "item1", "stock")
		require.Equal(t, "0", v)
	})

	t.Run("Concurrent", func(t *testing.T) {
		// With one unit left, racing decrements must serialize: exactly
		// one wins and the balance never goes negative.
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "item1", "stock", "1"))

		const buyers = 16
		oks := make([]bool, buyers)
		errs := make([]error, buyers)
		var wg sync.WaitGroup
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				oks[n], errs[n] = m.LTEDecrement(ctx, "item1", "stock", 1, fmt.Sprintf("tid%d", n))
			}(i)
		}
		wg.Wait()

		wins := 0
		for i := 0; i < buyers; i++ {
			require.NoError(t, errs[i])
			if oks[i] {
				wins++
			}
		}
		require.Equal(t, 1, wins)

		v, _, _ := m.GetAttr(ctx, "item1", "stock")
		require.Equal(t, "0", v)
		committed, _, _ := m.GetAttr(ctx, "item1", "committed_stock")
		require.Equal(t, "1", committed)
	})

	t.Run("Insufficient", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "item1", "stock", "3"))

		ok, err := m.LTEDecrement(ctx, "item1", "stock", 4, "tid1")
		require.NoError(t, err)
		require.False(t, ok)

		v, _, _ := m.GetAttr(ctx, "item1", "stock")
		require.Equal(t, "3", v)

		status, _, _ := m.GetAttr(ctx, "tid1", "status")
		require.Equal(t, StatusFailure, status)

		_, found, _ := m.GetAttr(ctx, "item1", "committed_stock")
		require.False(t, found)
	})

	t.Run("MissingKey", func(t *testing.T) {
		m := NewMemory()
		ok, err := m.LTEDecrement(ctx, "ghost", "stock", 1, "tid1")
		require.NoError(t, err)
		require.False(t, ok)

		status, _, _ := m.GetAttr(ctx, "tid1", "status")
		require.Equal(t, StatusFailure, status)
	})
}

// TestMGTEDecrement validates the all-or-nothing bulk decrement: when any
// line is short, no key is modified.
func TestMGTEDecrement(t *testing.T) {
	ctx := context.Background()

	t.Run("AllApplied", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "a", "stock", "10"))
		require.NoError(t, m.SetAttr(ctx, "b", "stock", "5"))

		ok, err := m.MGTEDecrement(ctx, "tid1", map[string]int64{"a": 3, "b": 5}, "stock")
		require.NoError(t, err)
		require.True(t, ok)

		va, _, _ := m.GetAttr(ctx, "a", "stock")
		vb, _, _ := m.GetAttr(ctx, "b", "stock")
		require.Equal(t, "7", va)
		require.Equal(t, "0", vb)

		ca, _, _ := m.GetAttr(ctx, "a", "committed_stock")
		cb, _, _ := m.GetAttr(ctx, "b", "committed_stock")
		require.Equal(t, "3", ca)
		require.Equal(t, "5", cb)

		status, _, _ := m.GetAttr(ctx, "tid1", "status")
		require.Equal(t, StatusSuccess, status)
	})

	t.Run("PartialShortModifiesNothing", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "a", "stock", "10"))
		require.NoError(t, m.SetAttr(ctx, "b", "stock", "2"))

		ok, err := m.MGTEDecrement(ctx, "tid1", map[string]int64{"a": 3, "b": 5}, "stock")
		require.NoError(t, err)
		require.False(t, ok)

		va, _, _ := m.GetAttr(ctx, "a", "stock")
		vb, _, _ := m.GetAttr(ctx, "b", "stock")
		require.Equal(t, "10", va)
		require.Equal(t, "2", vb)

		status, _, _ := m.GetAttr(ctx, "tid1", "status")
		require.Equal(t, StatusFailure, status)
	})

	t.Run("MissingLine", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetAttr(ctx, "a", "stock", "10"))

		ok, err := m.MGTEDecrement(ctx, "tid1", map[string]int64{"a": 3, "ghost": 1}, "stock")
		require.NoError(t, err)
		require.False(t, ok)

		va, _, _ := m.GetAttr(ctx, "a", "stock")
		require.Equal(t, "10", va)
	})
}

func TestCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SetAttr(ctx, "tid1", "locked", "false"))

	ok, err := m.CompareAndSet(ctx, "tid1", "locked", "false", "true")
	require.NoError(t, err)
	require.True(t, ok)

	// Second CAS on the same expectation loses.
	ok, err = m.CompareAndSet(ctx, "tid1", "locked", "false", "true")
	require.NoError(t, err)
	require.False(t, ok)

	// Missing field never matches.
	ok, err = m.CompareAndSet(ctx, "ghost", "locked", "false", "true")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrementNotNumeric(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SetAttr(ctx, "o1", "items", `["a:1"]`))

	_, err := m.Increment(ctx, "o1", "items", 1)
	require.ErrorIs(t, err, ErrNotNumeric)
}

// TestWatchConflict validates optimistic concurrency: a write to a watched
// key between the read and the commit aborts the transaction.
func TestWatchConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SetAttr(ctx, "o1", "total_cost", "10"))

	err := m.Watch(ctx, func(tx Tx) error {
		_, _, err := tx.GetAttr("o1", "total_cost")
		require.NoError(t, err)
		// A competing writer sneaks in before the commit.
		require.NoError(t, m.SetAttr(ctx, "o1", "total_cost", "99"))
		tx.Increment("o1", "total_cost", 5)
		return nil
	}, FieldKey{ID: "o1", Field: "total_cost"})
	require.ErrorIs(t, err, ErrConflict)

	v, _, _ := m.GetAttr(ctx, "o1", "total_cost")
	require.Equal(t, "99", v)
}

func TestSetNXExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetNX(ctx, "snapshot_lock", "locked", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.SetNX(ctx, "snapshot_lock", "locked", 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	exists, err := m.Exists(ctx, "snapshot_lock")
	require.NoError(t, err)
	require.False(t, exists)
}

// TestMemoryStream verifies at-least-once delivery: a failing handler sees
// its entry again.
func TestMemoryStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemoryStream()
	require.NoError(t, s.Push(ctx, "tid1"))

	seen := make(chan string, 4)
	failures := 0
	go s.Consume(ctx, nil, func(ctx context.Context, tid string) error {
		seen <- tid
		if failures == 0 {
			failures++
			return context.DeadlineExceeded
		}
		return nil
	})

	require.Equal(t, "tid1", <-seen)
	require.Equal(t, "tid1", <-seen)
}
