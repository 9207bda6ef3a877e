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

package order

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"checkout/internal/models"
	"checkout/internal/rpc"
	"checkout/internal/telemetry"
)

// handleCheckout runs the two-leg saga: reserve stock and debit credit in
// parallel, each leg tagged with the same transaction id. The orchestrator
// only reports the optimistic outcome; the reconciliation streams converge
// the legs afterwards, so no compensation happens here.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	halted, err := s.snap.Halted(ctx)
	if err != nil {
		http.Error(w, "DB error", http.StatusInternalServerError)
		return
	}
	if halted {
		http.Error(w, "system is halted for snapshot", http.StatusInternalServerError)
		return
	}

	orderID := r.PathValue("order_id")
	order := &models.Order{}
	found, err := s.kv.Load(ctx, orderID, order)
	if err != nil {
		http.Error(w, "DB error", http.StatusBadRequest)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("order %s not found", orderID), http.StatusBadRequest)
		return
	}
	if len(order.Items) == 0 {
		http.Error(w, "order has no items", http.StatusBadRequest)
		return
	}

	aggregated, err := models.AggregateItems(order.Items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tid := uuid.NewString()
	logger := s.log.WithFields(log.Fields{"order": orderID, "tid": tid})

	// The order-side transaction record is what makes /commit_checkout
	// idempotent; it must exist before either leg can race ahead.
	txn := &models.Transaction{
		ID:        tid,
		Status:    models.StatusPending,
		Details:   map[string]int64{orderID: order.TotalCost},
		CreatedAt: time.Now().Unix(),
	}
	if err := s.kv.Save(ctx, txn); err != nil {
		http.Error(w, "DB error", http.StatusInternalServerError)
		return
	}

	lines := make([]rpc.ItemQuantity, 0, len(aggregated))
	for id, qty := range aggregated {
		lines = append(lines, rpc.ItemQuantity{ItemID: id, Quantity: qty})
	}

	var (
		wg         sync.WaitGroup
		stockOK    bool
		stockErr   string
		paymentOK  bool
		paymentErr string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		legCtx, cancel := context.WithTimeout(context.Background(), s.legTimeout)
		defer cancel()
		resp, err := s.stock.BulkOrder(legCtx, &rpc.BulkStockAdjustment{Items: lines, Tid: tid})
		if err != nil {
			stockErr = err.Error()
			return
		}
		stockOK = resp.Status.Success
		stockErr = resp.Status.Error
	}()
	go func() {
		defer wg.Done()
		legCtx, cancel := context.WithTimeout(context.Background(), s.legTimeout)
		defer cancel()
		resp, err := s.payment.ProcessPayment(legCtx, &rpc.PaymentRequest{
			UserID: order.UserID,
			Amount: order.TotalCost,
			Tid:    tid,
		})
		if err != nil {
			paymentErr = err.Error()
			return
		}
		paymentOK = resp.Success
		paymentErr = resp.Error
	}()
	wg.Wait()

	if !stockOK || !paymentOK {
		telemetry.CheckoutsTotal.WithLabelValues("rejected").Inc()
		logger.WithFields(log.Fields{
			"stock_ok":   stockOK,
			"payment_ok": paymentOK,
		}).Info("checkout rejected")
		msg := "Checkout failed"
		if stockErr != "" {
			msg += ": " + stockErr
		}
		if paymentErr != "" {
			msg += ": " + paymentErr
		}
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	telemetry.CheckoutsTotal.WithLabelValues("accepted").Inc()
	logger.Info("checkout accepted")
	fmt.Fprint(w, "Checkout accepted")
}

// handleCommitCheckout finalizes an order once the reconcilers converge.
// Deleting the transaction record after the paid increment makes retries of
// the same tid a no-op.
func (s *Server) handleCommitCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tid := r.PathValue("tid")

	txn := &models.Transaction{}
	found, err := s.kv.Load(ctx, tid, txn)
	if err != nil {
		http.Error(w, "DB error", http.StatusInternalServerError)
		return
	}
	if !found {
		// Already committed, or never created. Either way the retry is done.
		fmt.Fprint(w, "Checkout already committed")
		return
	}

	for orderID := range txn.Details {
		if _, err := s.kv.Increment(ctx, orderID, "paid", 1); err != nil {
			http.Error(w, "DB error", http.StatusInternalServerError)
			return
		}
		s.log.WithFields(log.Fields{"order": orderID, "tid": tid}).Info("checkout committed")
	}
	if _, err := s.kv.Delete(ctx, tid); err != nil {
		http.Error(w, "DB error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, "Checkout committed")
}
