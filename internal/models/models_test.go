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

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"checkout/internal/keyval"
)

// TestOrderRoundTrip verifies that an order survives the field-addressable
// encoding, including the JSON-packed item list.
func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := keyval.NewMemory()

	in := &Order{
		ID:        "o1",
		Paid:      1,
		Items:     []string{"item1:2", "item2:1"},
		UserID:    "u1",
		TotalCost: 35,
	}
	require.NoError(t, m.Save(ctx, in))

	// Fields land as individual keys, ints as decimal strings.
	v, found, err := m.GetAttr(ctx, "o1", "total_cost")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "35", v)

	out := &Order{}
	found, err = m.Load(ctx, "o1", out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := keyval.NewMemory()

	in := &Transaction{
		ID:        "tid1",
		Status:    StatusPending,
		Details:   map[string]int64{"item1": 2, "item2": 1},
		CreatedAt: 1700000000,
	}
	require.NoError(t, m.Save(ctx, in))

	// The advisory lock starts released.
	locked, found, err := m.GetAttr(ctx, "tid1", "locked")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "false", locked)

	out := &Transaction{}
	found, err = m.Load(ctx, "tid1", out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in.Details, out.Details)
	require.Equal(t, StatusPending, out.Status)
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	m := keyval.NewMemory()

	found, err := m.Load(ctx, "ghost", &User{})
	require.NoError(t, err)
	require.False(t, found)
}

// TestAggregateItems covers the "item:qty" line format, including item ids
// that themselves contain colons.
func TestAggregateItems(t *testing.T) {
	t.Run("SumsDuplicates", func(t *testing.T) {
		got, err := AggregateItems([]string{"item1:2", "item2:1", "item1:3"})
		require.NoError(t, err)
		require.Equal(t, map[string]int64{"item1": 5, "item2": 1}, got)
	})

	t.Run("ColonInItemID", func(t *testing.T) {
		got, err := AggregateItems([]string{"region:eu:item1:2"})
		require.NoError(t, err)
		require.Equal(t, map[string]int64{"region:eu:item1": 2}, got)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := AggregateItems([]string{"item1"})
		require.Error(t, err)

		_, err = AggregateItems([]string{"item1:notanumber"})
		require.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		got, err := AggregateItems(nil)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}
