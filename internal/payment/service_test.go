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

package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"checkout/internal/keyval"
	"checkout/internal/models"
	"checkout/internal/rpc"
	"checkout/internal/snapshot"
)

type stubPeer struct{}

func (stubPeer) VibeCheckTransactionStatus(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
	return req, nil
}

func newTestService(t *testing.T) (*Service, *keyval.Memory, *keyval.MemoryStream) {
	t.Helper()
	kv := keyval.NewMemory()
	stream := keyval.NewMemoryStream()
	svc := New(kv, stream, stubPeer{}, nil, snapshot.New(kv, 0))
	return svc, kv, stream
}

func seedUser(t *testing.T, kv *keyval.Memory, id string, credit int64) {
	t.Helper()
	require.NoError(t, kv.Save(context.Background(), &models.User{ID: id, Credit: credit}))
}

func TestFindUser(t *testing.T) {
	ctx := context.Background()
	svc, kv, _ := newTestService(t)
	seedUser(t, kv, "u1", 100)

	resp, err := svc.FindUser(ctx, &rpc.FindUserRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, int64(100), resp.User.Credit)

	_, err = svc.FindUser(ctx, &rpc.FindUserRequest{UserID: "ghost"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestAddFunds(t *testing.T) {
	ctx := context.Background()
	svc, kv, _ := newTestService(t)
	seedUser(t, kv, "u1", 100)

	resp, err := svc.AddFunds(ctx, &rpc.AddFundsRequest{UserID: "u1", Amount: 50})
	require.NoError(t, err)
	require.True(t, resp.Success)

	user := &models.User{}
	_, err = kv.Load(ctx, "u1", user)
	require.NoError(t, err)
	require.Equal(t, int64(150), user.Credit)

	resp, err = svc.AddFunds(ctx, &rpc.AddFundsRequest{UserID: "ghost", Amount: 50})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

// TestProcessPayment exercises the payment saga leg: PENDING record and
// stream event first, then the atomic conditional debit.
func TestProcessPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		svc, kv, stream := newTestService(t)
		seedUser(t, kv, "u1", 100)

		resp, err := svc.ProcessPayment(ctx, &rpc.PaymentRequest{UserID: "u1", Amount: 60, Tid: "tid1"})
		require.NoError(t, err)
		require.True(t, resp.Success)

		user := &models.User{}
		_, err = kv.Load(ctx, "u1", user)
		require.NoError(t, err)
		require.Equal(t, int64(40), user.Credit)
		require.Equal(t, int64(60), user.CommittedCredit)

		txn := &models.Transaction{}
		found, err := kv.Load(ctx, "tid1", txn)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, models.StatusSuccess, txn.Status)
		require.Equal(t, map[string]int64{"u1": 60}, txn.Details)

		n, err := stream.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		svc, kv, _ := newTestService(t)
		seedUser(t, kv, "u1", 30)

		resp, err := svc.ProcessPayment(ctx, &rpc.PaymentRequest{UserID: "u1", Amount: 60, Tid: "tid1"})
		require.NoError(t, err)
		require.False(t, resp.Success)
		require.Equal(t, "Insufficient funds", resp.Error)

		user := &models.User{}
		_, err = kv.Load(ctx, "u1", user)
		require.NoError(t, err)
		require.Equal(t, int64(30), user.Credit)

		txn := &models.Transaction{}
		_, err = kv.Load(ctx, "tid1", txn)
		require.NoError(t, err)
		require.Equal(t, models.StatusFailure, txn.Status)
	})

	t.Run("StaleTidRejected", func(t *testing.T) {
		svc, kv, stream := newTestService(t)
		seedUser(t, kv, "u1", 100)
		require.NoError(t, kv.SetAttr(ctx, "tid1", "status", keyval.StatusStale))

		resp, err := svc.ProcessPayment(ctx, &rpc.PaymentRequest{UserID: "u1", Amount: 60, Tid: "tid1"})
		require.NoError(t, err)
		require.False(t, resp.Success)

		user := &models.User{}
		_, err = kv.Load(ctx, "u1", user)
		require.NoError(t, err)
		require.Equal(t, int64(100), user.Credit)
		n, _ := stream.Len(ctx)
		require.Zero(t, n)
	})
}
