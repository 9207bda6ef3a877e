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

// Package stock implements the stock service: inventory reads, saga-leg
// decrements, refunds, the vibe-check endpoint and the snapshot lifecycle.
package stock

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

// Service implements rpc.StockServer.
type Service struct {
	kv       keyval.KV
	producer keyval.Producer
	checker  *reconcile.Checker
	snap     *snapshot.State
	log      *log.Entry
}

// New wires the service. peer is the payment vibe-check client.
func New(kv keyval.KV, producer keyval.Producer, peer reconcile.PeerClient, snap *snapshot.State) *Service {
	return &Service{
		kv:       kv,
		producer: producer,
		checker:  reconcile.New(kv, producer, peer, "stock", "stock", nil),
		snap:     snap,
		log:      log.WithField("service", "stock"),
	}
}

// Checker exposes the reconciliation engine for the stream consumer loop.
func (s *Service) Checker() *reconcile.Checker { return s.checker }

func (s *Service) FindItem(ctx context.Context, req *rpc.FindItemRequest) (*rpc.Item, error) {
	item := &models.Item{}
	found, err := s.kv.Load(ctx, req.ItemID, item)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "item %s not found", req.ItemID)
	}
	return &rpc.Item{ID: item.ID, Stock: item.Stock, Price: item.Price}, nil
}

func (s *Service) AddStock(ctx context.Context, req *rpc.StockAdjustment) (*rpc.StockAdjustmentResponse, error) {
	item := &models.Item{}
	found, err := s.kv.Load(ctx, req.ItemID, item)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !found {
		return &rpc.StockAdjustmentResponse{
			Status: rpc.OperationResponse{Success: false, Error: "item " + req.ItemID + " not found"},
		}, nil
	}
	newStock, err := s.kv.Increment(ctx, req.ItemID, "stock", req.Quantity)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log.WithFields(log.Fields{"item": req.ItemID, "quantity": req.Quantity, "stock": newStock}).Info("added stock")
	return &rpc.StockAdjustmentResponse{
		Status: rpc.OperationResponse{Success: true},
		Price:  item.Price * req.Quantity,
	}, nil
}

// beginLeg writes the PENDING transaction record and pushes the tid to the
// stream before the atomic decrement runs, so the vibe check always finds
// the record. Reports false when the tid was already marked STALE.
func (s *Service) beginLeg(ctx context.Context, tid string, details map[string]int64) (bool, error) {
	cur, ok, err := s.kv.GetAttr(ctx, tid, "status")
	if err != nil {
		return false, err
	}
	if ok && cur == keyval.StatusStale {
		return false, nil
	}
	txn := &models.Transaction{
		ID:        tid,
		Status:    models.StatusPending,
		Details:   details,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.kv.Save(ctx, txn); err != nil {
		return false, err
	}
	if err := s.producer.Push(ctx, tid); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) RemoveStock(ctx context.Context, req *rpc.StockAdjustment) (*rpc.StockAdjustmentResponse, error) {
	ok, err := s.beginLeg(ctx, req.Tid, map[string]int64{req.ItemID: req.Quantity})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !ok {
		return &rpc.StockAdjustmentResponse{
			Status: rpc.OperationResponse{Success: false, Error: "transaction is stale"},
		}, nil
	}
	priceStr, _, err := s.kv.GetAttr(ctx, req.ItemID, "price")
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	ok, err = s.kv.LTEDecrement(ctx, req.ItemID, "stock", req.Quantity, req.Tid)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !ok {
		s.log.WithFields(log.Fields{"item": req.ItemID, "tid": req.Tid}).Info("insufficient stock")
		return &rpc.StockAdjustmentResponse{
			Status: rpc.OperationResponse{Success: false, Error: "Insufficient stock"},
		}, nil
	}
	price := int64(0)
	if priceStr != "" {
		price, _ = keyval.ParseInt(priceStr)
	}
	s.log.WithFields(log.Fields{"item": req.ItemID, "quantity": req.Quantity, "tid": req.Tid}).Info("removed stock")
	return &rpc.StockAdjustmentResponse{
		Status: rpc.OperationResponse{Success: true},
		Price:  price * req.Quantity,
	}, nil
}

func (s *Service) BulkOrder(ctx context.Context, req *rpc.BulkStockAdjustment) (*rpc.BulkStockAdjustmentResponse, error) {
	changes := make(map[string]int64, len(req.Items))
	for _, line := range req.Items {
		changes[line.ItemID] += line.Quantity
	}
	ok, err := s.beginLeg(ctx, req.Tid, changes)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !ok {
		return &rpc.BulkStockAdjustmentResponse{
			Status: rpc.OperationResponse{Success: false, Error: "transaction is stale"},
		}, nil
	}

	// Prices are read before the decrement; the decrement itself is
	// all-or-nothing so a partial failure never needs price bookkeeping.
	totalCost := int64(0)
	for id, qty := range changes {
		priceStr, found, err := s.kv.GetAttr(ctx, id, "price")
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		if found {
			price, _ := keyval.ParseInt(priceStr)
			totalCost += price * qty
		}
	}

	ok, err = s.kv.MGTEDecrement(ctx, req.Tid, changes, "stock")
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !ok {
		s.log.WithField("tid", req.Tid).Info("bulk order rejected, insufficient stock")
		return &rpc.BulkStockAdjustmentResponse{
			Status: rpc.OperationResponse{Success: false, Error: "Insufficient stock"},
		}, nil
	}
	s.log.WithFields(log.Fields{"tid": req.Tid, "items": len(changes), "total_cost": totalCost}).Info("bulk order applied")
	return &rpc.BulkStockAdjustmentResponse{
		Status:    rpc.OperationResponse{Success: true},
		TotalCost: totalCost,
	}, nil
}

func (s *Service) BulkRefund(ctx context.Context, req *rpc.BulkStockAdjustment) (*rpc.OperationResponse, error) {
	for _, line := range req.Items {
		if _, err := s.kv.Increment(ctx, line.ItemID, "stock", line.Quantity); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		s.log.WithFields(log.Fields{"item": line.ItemID, "quantity": line.Quantity}).Info("refunded stock")
	}
	return &rpc.OperationResponse{Success: true}, nil
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
