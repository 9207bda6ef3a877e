//go:build e2e

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
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// e2eStore returns a Store against a live Redis, or skips. Requires a Redis
// at 127.0.0.1:6379; run with -tags e2e.
func e2eStore(t *testing.T) *Store {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}
	require.NoError(t, rc.FlushDB(context.Background()).Err())
	t.Cleanup(func() { rc.Close() })
	return NewStore(rc)
}

// TestRedisScriptsE2E verifies the Lua scripts behave like the in-memory
// contract on a real server.
func TestRedisScriptsE2E(t *testing.T) {
	ctx := context.Background()
	s := e2eStore(t)

	require.NoError(t, s.SetAttr(ctx, "item1", "stock", "10"))

	ok, err := s.LTEDecrement(ctx, "item1", "stock", 4, "tid1")
	require.NoError(t, err)
	require.True(t, ok)

	v, _, err := s.GetAttr(ctx, "item1", "stock")
	require.NoError(t, err)
	require.Equal(t, "6", v)
	status, _, err := s.GetAttr(ctx, "tid1", "status")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)
	committed, _, err := s.GetAttr(ctx, "item1", "committed_stock")
	require.NoError(t, err)
	require.Equal(t, "4", committed)

	// Over-draw fails and leaves the balance alone.
	ok, err = s.LTEDecrement(ctx, "item1", "stock", 7, "tid2")
	require.NoError(t, err)
	require.False(t, ok)
	v, _, _ = s.GetAttr(ctx, "item1", "stock")
	require.Equal(t, "6", v)

	// Bulk all-or-nothing.
	require.NoError(t, s.SetAttr(ctx, "a", "stock", "5"))
	require.NoError(t, s.SetAttr(ctx, "b", "stock", "1"))
	ok, err = s.MGTEDecrement(ctx, "tid3", map[string]int64{"a": 2, "b": 3}, "stock")
	require.NoError(t, err)
	require.False(t, ok)
	va, _, _ := s.GetAttr(ctx, "a", "stock")
	require.Equal(t, "5", va)

	ok, err = s.MGTEDecrement(ctx, "tid4", map[string]int64{"a": 2, "b": 1}, "stock")
	require.NoError(t, err)
	require.True(t, ok)
	va, _, _ = s.GetAttr(ctx, "a", "stock")
	vb, _, _ := s.GetAttr(ctx, "b", "stock")
	require.Equal(t, "3", va)
	require.Equal(t, "0", vb)

	// Advisory lock CAS.
	require.NoError(t, s.SetAttr(ctx, "tid4", "locked", "false"))
	ok, err = s.CompareAndSet(ctx, "tid4", "locked", "false", "true")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.CompareAndSet(ctx, "tid4", "locked", "false", "true")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestRedisStreamE2E verifies group creation, push and a single consume
// round-trip against a real stream.
func TestRedisStreamE2E(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := e2eStore(t)

	producer := NewStreamProducer(s.Client(), TransactionsStream)
	consumer, err := NewStreamConsumer(ctx, s.Client(), TransactionsStream, ConsumerGroup, "e2e-consumer")
	require.NoError(t, err)

	require.NoError(t, producer.Push(ctx, "tid1"))
	n, err := producer.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got := make(chan string, 1)
	go consumer.Consume(ctx, nil, func(ctx context.Context, tid string) error {
		got <- tid
		return nil
	})

	select {
	case tid := <-got:
		require.Equal(t, "tid1", tid)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never delivered the entry")
	}
}
