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

// Package payment implements the payment service, symmetric to stock:
// credit reads, the payment saga leg, the vibe-check endpoint and the
// snapshot lifecycle. The payment-side reconciler is the one that commits
// orders, so exactly one commit is issued per converged saga.
package payment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"checkout/internal/keyval"
	"checkout/internal/models"
	"checkout/internal/reconcile"
	"checkout/internal/rpc"
	"checkout/internal/snapshot"
)

// Service implements rpc.PaymentServer.
type Service struct {
	kv       keyval.KV
	producer keyval.Producer
	checker  *reconcile.Checker
	snap     *snapshot.State
	log      *log.Entry
}

// New wires the service. peer is the stock vibe-check client; committer
// finalizes orders and belongs to this side of the saga.
func New(kv keyval.KV, producer keyval.Producer, peer reconcile.PeerClient, committer reconcile.OrderCommitter, snap *snapshot.State) *Service {
	return &Service{
		kv:       kv,
		producer: producer,
		checker:  reconcile.New(kv, producer, peer, "payment", "credit", committer),
		snap:     snap,
		log:      log.WithField("service", "payment"),
	}
}

// Checker exposes the reconciliation engine for the stream consumer loop.
func (s *Service) Checker() *reconcile.Checker { return s.checker }

func (s *Service) FindUser(ctx context.Context, req *rpc.FindUserRequest) (*rpc.FindUserResponse, error) {
	user := &models.User{}
	found, err := s.kv.Load(ctx, req.UserID, user)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "user %s not found", req.UserID)
	}
	return &rpc.FindUserResponse{User: rpc.User{ID: user.ID, Credit: user.Credit}}, nil
}

func (s *Service) AddFunds(ctx context.Context, req *rpc.AddFundsRequest) (*rpc.OperationResponse, error) {
	user := &models.User{}
	found, err := s.kv.Load(ctx, req.UserID, user)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !found {
		return &rpc.OperationResponse{Success: false, Error: "user " + req.UserID + " not found"}, nil
	}
	credit, err := s.kv.Increment(ctx, req.UserID, "credit", req.Amount)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log.WithFields(log.Fields{"user": req.UserID, "amount": req.Amount, "credit": credit}).Info("added funds")
	return &rpc.OperationResponse{Success: true}, nil
}

func (s *Service) ProcessPayment(ctx context.Context, req *rpc.PaymentRequest) (*rpc.PaymentResponse, error) {
	cur, ok, err := s.kv.GetAttr(ctx, req.Tid, "status")
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if ok && cur == keyval.StatusStale {
		return &rpc.PaymentResponse{Success: false, Error: "transaction is stale"}, nil
	}
	txn := &models.Transaction{
		ID:        req.Tid,
		Status:    models.StatusPending,
		Details:   map[string]int64{req.UserID: req.Amount},
		CreatedAt: time.Now().Unix(),
	}
	if err := s.kv.Save(ctx, txn); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := s.producer.Push(ctx, req.Tid); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	// The only debit path. The script flips the transaction status in the
	// same step, so a negative balance is never observable.
	debited, err := s.kv.LTEDecrement(ctx, req.UserID, "credit", req.Amount, req.Tid)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !debited {
		s.log.WithFields(log.Fields{"user": req.UserID, "amount": req.Amount, "tid": req.Tid}).Info("payment rejected")
		return &rpc.PaymentResponse{Success: false, Error: "Insufficient funds"}, nil
	}
	s.log.WithFields(log.Fields{"user": req.UserID, "amount": req.Amount, "tid": req.Tid}).Info("payment processed")
	return &rpc.PaymentResponse{Success: true}, nil
}

func (s *Service) VibeCheckTransactionStatus(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
	return s.checker.HandleVibeCheck(ctx, req)
}

func (s *Service) PrepareSnapshot(ctx context.Context, _ *rpc.Empty) (*rpc.OperationResponse, error) {
	ok, err := s.snap.Prepare(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.OperationResponse{Success: ok}, nil
}

func (s *Service) CheckSnapshotReady(ctx context.Context, _ *rpc.Empty) (*rpc.OperationResponse, error) {
	ok, err := s.snap.Ready(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.OperationResponse{Success: ok}, nil
}

func (s *Service) Snapshot(ctx context.Context, _ *rpc.Empty) (*rpc.OperationResponse, error) {
	if err := s.snap.TakeSnapshot(ctx); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.OperationResponse{Success: true}, nil
}

func (s *Service) ContinueConsuming(ctx context.Context, _ *rpc.Empty) (*rpc.OperationResponse, error) {
	if err := s.snap.Continue(ctx); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.OperationResponse{Success: true}, nil
}
