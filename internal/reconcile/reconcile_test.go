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

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"checkout/internal/keyval"
	"checkout/internal/models"
	"checkout/internal/rpc"
)

type fakePeer struct {
	resp  *rpc.TransactionStatus
	err   error
	calls int
}

func (f *fakePeer) VibeCheckTransactionStatus(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
	f.calls++
	return f.resp, f.err
}

type fakeCommitter struct {
	tids []string
	err  error
}

func (f *fakeCommitter) CommitCheckout(ctx context.Context, tid string) error {
	f.tids = append(f.tids, tid)
	return f.err
}

func newTestChecker(t *testing.T, peer PeerClient, committer OrderCommitter) (*Checker, *keyval.Memory, *keyval.MemoryStream) {
	t.Helper()
	kv := keyval.NewMemory()
	stream := keyval.NewMemoryStream()
	c := New(kv, stream, peer, "stock", "stock", committer)
	c.sleep = func(time.Duration) {}
	c.findRetries = 2
	c.findDelay = 0
	return c, kv, stream
}

// seedLeg writes the post-decrement state of a successful saga leg: the
// transaction record plus the debited balance and its committed mirror.
func seedLeg(t *testing.T, kv *keyval.Memory, tid string, st models.TransactionStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, kv.Save(ctx, &models.Transaction{
		ID:        tid,
		Status:    st,
		Details:   map[string]int64{"item1": 3},
		CreatedAt: time.Now().Unix(),
	}))
	require.NoError(t, kv.SetAttr(ctx, "item1", "stock", "7"))
	if st == models.StatusSuccess {
		require.NoError(t, kv.SetAttr(ctx, "item1", "committed_stock", "3"))
	}
}

func attr(t *testing.T, kv *keyval.Memory, id, field string) string {
	t.Helper()
	v, _, err := kv.GetAttr(context.Background(), id, field)
	require.NoError(t, err)
	return v
}

// TestHandlePairing covers the reconciliation outcome table for a local leg
// whose peer answered.
func TestHandlePairing(t *testing.T) {
	ctx := context.Background()

	t.Run("BothSucceededCommits", func(t *testing.T) {
		peer := &fakePeer{resp: &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess}}
		committer := &fakeCommitter{}
		c, kv, _ := newTestChecker(t, peer, committer)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		require.NoError(t, c.Handle(ctx, "tid1"))

		// Balance stays debited; committed bookkeeping zeroes out.
		require.Equal(t, "7", attr(t, kv, "item1", "stock"))
		require.Equal(t, "0", attr(t, kv, "item1", "committed_stock"))
		require.Equal(t, []string{"tid1"}, committer.tids)

		// Record is gone, so a duplicate delivery is a no-op.
		found, err := kv.Load(ctx, "tid1", &models.Transaction{})
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("PeerFailedRollsBack", func(t *testing.T) {
		peer := &fakePeer{resp: &rpc.TransactionStatus{Tid: "tid1", Success: false, Status: keyval.StatusFailure}}
		committer := &fakeCommitter{}
		c, kv, _ := newTestChecker(t, peer, committer)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		require.NoError(t, c.Handle(ctx, "tid1"))

		// The debit is undone and no commit is issued.
		require.Equal(t, "10", attr(t, kv, "item1", "stock"))
		require.Equal(t, "0", attr(t, kv, "item1", "committed_stock"))
		require.Empty(t, committer.tids)
	})

	t.Run("LocalFailedNothingToUndo", func(t *testing.T) {
		peer := &fakePeer{resp: &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess}}
		c, kv, _ := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusFailure)

		require.NoError(t, c.Handle(ctx, "tid1"))

		require.Equal(t, "7", attr(t, kv, "item1", "stock"))
		found, err := kv.Load(ctx, "tid1", &models.Transaction{})
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("DuplicateDeliverySkips", func(t *testing.T) {
		peer := &fakePeer{resp: &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess}}
		c, kv, _ := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		require.NoError(t, c.Handle(ctx, "tid1"))
		require.NoError(t, c.Handle(ctx, "tid1"))

		// A second pass must not double-commit.
		require.Equal(t, "0", attr(t, kv, "item1", "committed_stock"))
		require.Equal(t, 1, peer.calls)
	})
}

// TestHandleRequeue covers the paths where the event is pushed back instead
// of resolved.
func TestHandleRequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("ContestedLock", func(t *testing.T) {
		peer := &fakePeer{}
		c, kv, stream := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)
		require.NoError(t, kv.SetAttr(ctx, "tid1", "locked", "true"))

		require.NoError(t, c.Handle(ctx, "tid1"))

		n, err := stream.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		require.Zero(t, peer.calls)
	})

	t.Run("StillPending", func(t *testing.T) {
		peer := &fakePeer{}
		c, kv, stream := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusPending)

		require.NoError(t, c.Handle(ctx, "tid1"))

		n, _ := stream.Len(ctx)
		require.Equal(t, int64(1), n)
		require.Equal(t, "1", attr(t, kv, "tid1", "pending_count"))
		// The lock is released for the next attempt.
		require.Equal(t, "false", attr(t, kv, "tid1", "locked"))
	})

	t.Run("PeerError", func(t *testing.T) {
		peer := &fakePeer{err: errors.New("connection refused")}
		c, kv, stream := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		require.NoError(t, c.Handle(ctx, "tid1"))

		n, _ := stream.Len(ctx)
		require.Equal(t, int64(1), n)
		require.Equal(t, "false", attr(t, kv, "tid1", "locked"))
		// Nothing was resolved.
		require.Equal(t, "7", attr(t, kv, "item1", "stock"))
		require.Equal(t, "3", attr(t, kv, "item1", "committed_stock"))
	})

	t.Run("PeerLockedRemotely", func(t *testing.T) {
		peer := &fakePeer{err: status.Error(codes.FailedPrecondition, "transaction locked")}
		c, kv, stream := newTestChecker(t, peer, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		require.NoError(t, c.Handle(ctx, "tid1"))

		n, _ := stream.Len(ctx)
		require.Equal(t, int64(1), n)
	})
}

// TestHandleVibeCheck covers the callee side of the pairing call.
func TestHandleVibeCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("ResolvesWithCallerOutcome", func(t *testing.T) {
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)

		resp, err := c.HandleVibeCheck(ctx, &rpc.TransactionStatus{Tid: "tid1", Success: false, Status: keyval.StatusFailure})
		require.NoError(t, err)
		require.True(t, resp.Success)
		require.Equal(t, keyval.StatusSuccess, resp.Status)

		// Caller failed, so this side rolled back.
		require.Equal(t, "10", attr(t, kv, "item1", "stock"))
		require.Equal(t, "0", attr(t, kv, "item1", "committed_stock"))
	})

	t.Run("MissingWritesStale", func(t *testing.T) {
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)

		resp, err := c.HandleVibeCheck(ctx, &rpc.TransactionStatus{Tid: "ghost", Success: true, Status: keyval.StatusSuccess})
		require.NoError(t, err)
		require.False(t, resp.Success)
		require.Equal(t, keyval.StatusStale, resp.Status)

		// The stale record blocks a late arrival of the creator's write.
		require.Equal(t, keyval.StatusStale, attr(t, kv, "ghost", "status"))
	})

	t.Run("PendingPastBudgetMarksStale", func(t *testing.T) {
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)
		seedLeg(t, kv, "tid1", models.StatusPending)

		resp, err := c.HandleVibeCheck(ctx, &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess})
		require.NoError(t, err)
		require.Equal(t, keyval.StatusStale, resp.Status)
		require.Equal(t, keyval.StatusStale, attr(t, kv, "tid1", "status"))
	})

	t.Run("LockedReturnsFailedPrecondition", func(t *testing.T) {
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)
		seedLeg(t, kv, "tid1", models.StatusSuccess)
		require.NoError(t, kv.SetAttr(ctx, "tid1", "locked", "true"))

		_, err := c.HandleVibeCheck(ctx, &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess})
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
	})

	t.Run("CallerHangupStillWritesStale", func(t *testing.T) {
		// The caller cancelling mid-retry must not abort before the stale
		// record is written; otherwise a one-sided saga requeues forever.
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		resp, err := c.HandleVibeCheck(cancelled, &rpc.TransactionStatus{Tid: "ghost", Success: true, Status: keyval.StatusSuccess})
		require.NoError(t, err)
		require.False(t, resp.Success)
		require.Equal(t, keyval.StatusStale, resp.Status)
		require.Equal(t, keyval.StatusStale, attr(t, kv, "ghost", "status"))
	})

	t.Run("CallerHangupMarksPendingStale", func(t *testing.T) {
		c, kv, _ := newTestChecker(t, &fakePeer{}, nil)
		seedLeg(t, kv, "tid1", models.StatusPending)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		resp, err := c.HandleVibeCheck(cancelled, &rpc.TransactionStatus{Tid: "tid1", Success: true, Status: keyval.StatusSuccess})
		require.NoError(t, err)
		require.Equal(t, keyval.StatusStale, resp.Status)
		require.Equal(t, keyval.StatusStale, attr(t, kv, "tid1", "status"))
	})
}

type peerFunc func(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error)

func (f peerFunc) VibeCheckTransactionStatus(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
	return f(ctx, req)
}

// TestRPCDeadlineCoversFindBudget pins the relationship between the caller's
// vibe-check deadline and the callee's find-retry budget. If the deadline is
// shorter, a lost peer leg is cancelled on every delivery before it can age
// out to STALE and the event loops on the stream.
func TestRPCDeadlineCoversFindBudget(t *testing.T) {
	c := New(keyval.NewMemory(), keyval.NewMemoryStream(), &fakePeer{}, "stock", "stock", nil)
	budget := time.Duration(c.findRetries) * c.findDelay
	require.Greater(t, c.rpcTimeout, budget)
}

// TestOneSidedSagaCompensates drives a full pairing where the peer's leg
// never materialized: the peer's handler ages the missing record out to
// STALE and the local debit is rolled back.
func TestOneSidedSagaCompensates(t *testing.T) {
	ctx := context.Background()

	remote, remoteKV, _ := newTestChecker(t, &fakePeer{}, nil)

	local, localKV, stream := newTestChecker(t, peerFunc(func(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
		return remote.HandleVibeCheck(ctx, req)
	}), nil)
	seedLeg(t, localKV, "tid1", models.StatusSuccess)

	require.NoError(t, local.Handle(ctx, "tid1"))

	// Local side compensated its debit.
	require.Equal(t, "10", attr(t, localKV, "item1", "stock"))
	require.Equal(t, "0", attr(t, localKV, "item1", "committed_stock"))
	// Remote side holds the stale tombstone, so no late write can revive
	// the pair, and the event is not requeued.
	require.Equal(t, keyval.StatusStale, attr(t, remoteKV, "tid1", "status"))
	n, err := stream.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
