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

// Package order implements the checkout orchestrator: the HTTP surface for
// order lifecycle plus the two-leg saga fan-out. The orchestrator never
// compensates after fan-out; the reconciliation stream owns that path.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"checkout/internal/keyval"
	"checkout/internal/models"
	"checkout/internal/rpc"
	"checkout/internal/snapshot"
)

// StockAPI is the slice of the stock service the orchestrator needs.
type StockAPI interface {
	FindItem(ctx context.Context, req *rpc.FindItemRequest) (*rpc.Item, error)
	BulkOrder(ctx context.Context, req *rpc.BulkStockAdjustment) (*rpc.BulkStockAdjustmentResponse, error)
}

// PaymentAPI is the slice of the payment service the orchestrator needs.
type PaymentAPI interface {
	ProcessPayment(ctx context.Context, req *rpc.PaymentRequest) (*rpc.PaymentResponse, error)
}

// Server handles the order HTTP surface.
type Server struct {
	kv      keyval.KV
	stock   StockAPI
	payment PaymentAPI
	snap    *snapshot.State

	// legTimeout bounds each saga leg RPC.
	legTimeout time.Duration
	// addItemRetries bounds the optimistic-concurrency retry on addItem.
	addItemRetries int

	log *log.Entry
}

// NewServer wires the orchestrator.
func NewServer(kv keyval.KV, stock StockAPI, payment PaymentAPI, snap *snapshot.State) *Server {
	return &Server{
		kv:             kv,
		stock:          stock,
		payment:        payment,
		snap:           snap,
		legTimeout:     2 * time.Second,
		addItemRetries: 3,
		log:            log.WithField("service", "order"),
	}
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /create/{user_id}", s.handleCreate)
	mux.HandleFunc("POST /addItem/{order_id}/{item_id}/{quantity}", s.handleAddItem)
	mux.HandleFunc("POST /checkout/{order_id}", s.handleCheckout)
	mux.HandleFunc("POST /commit_checkout/{tid}", s.handleCommitCheckout)
	mux.HandleFunc("GET /find_order/{order_id}", s.handleFindOrder)
	mux.HandleFunc("POST /batch_init/{n}/{n_items}/{n_users}/{price}", s.handleBatchInit)
	mux.HandleFunc("POST /prepare_rollback", s.handlePrepareRollback)
	mux.HandleFunc("POST /snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /continue", s.handleContinue)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	orderID := uuid.NewString()
	order := &models.Order{ID: orderID, Paid: 0, Items: []string{}, UserID: userID, TotalCost: 0}
	if err := s.kv.Save(r.Context(), order); err != nil {
		s.log.WithFields(log.Fields{"order": orderID, "error": err}).Error("failed to save order")
		http.Error(w, "DB error", http.StatusBadRequest)
		return
	}
	s.log.WithFields(log.Fields{"order": orderID, "user": userID}).Info("order created")
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	itemID := r.PathValue("item_id")
	quantity, err := strconv.ParseInt(r.PathValue("quantity"), 10, 64)
	if err != nil || quantity <= 0 {
		http.Error(w, "quantity must be a positive integer", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	item, err := s.stock.FindItem(ctx, &rpc.FindItemRequest{ItemID: itemID})
	if err != nil {
		s.log.WithFields(log.Fields{"item": itemID, "error": err}).Error("stock lookup failed")
		http.Error(w, fmt.Sprintf("item %s not found", itemID), http.StatusBadRequest)
		return
	}

	// Optimistic concurrency: watch (items, total_cost), append and bump
	// the total atomically, retry bounded on conflict.
	var count int
	for attempt := 0; ; attempt++ {
		err = s.kv.Watch(ctx, func(tx keyval.Tx) error {
			itemsRaw, found, err := tx.GetAttr(orderID, "items")
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("order %s not found", orderID)
			}
			items, err := models.DecodeItems(itemsRaw)
			if err != nil {
				return err
			}
			items = append(items, fmt.Sprintf("%s:%d", itemID, quantity))
			count = len(items)
			tx.Increment(orderID, "total_cost", item.Price*quantity)
			tx.SetAttr(orderID, "items", models.EncodeItems(items))
			return nil
		}, keyval.FieldKey{ID: orderID, Field: "items"}, keyval.FieldKey{ID: orderID, Field: "total_cost"})
		if err == keyval.ErrConflict && attempt < s.addItemRetries {
			continue
		}
		break
	}
	if err != nil {
		s.log.WithFields(log.Fields{"order": orderID, "error": err}).Error("failed to add item")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.WithFields(log.Fields{"order": orderID, "item": itemID, "quantity": quantity}).Info("item added")
	fmt.Fprintf(w, "Item %s added. Total item count: %d", itemID, count)
}

func (s *Server) handleFindOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")
	order := &models.Order{}
	found, err := s.kv.Load(r.Context(), orderID, order)
	if err != nil {
		http.Error(w, "DB error", http.StatusBadRequest)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("order %s not found", orderID), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":   order.ID,
		"paid":       order.Paid,
		"items":      order.Items,
		"user_id":    order.UserID,
		"total_cost": order.TotalCost,
	})
}

func (s *Server) handleBatchInit(w http.ResponseWriter, r *http.Request) {
	// Fail fast on the first bad parameter.
	params := make([]int64, 4)
	for i, name := range []string{"n", "n_items", "n_users", "price"} {
		v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "all parameters must be valid integers", http.StatusBadRequest)
			return
		}
		params[i] = v
	}
	n, nItems, nUsers, price := params[0], params[1], params[2], params[3]

	for i := int64(0); i < n; i++ {
		order := &models.Order{
			ID:     strconv.FormatInt(i, 10),
			UserID: strconv.FormatInt(rand.Int63n(nUsers), 10),
			Items: []string{
				fmt.Sprintf("%d:1", rand.Int63n(nItems)),
				fmt.Sprintf("%d:1", rand.Int63n(nItems)),
			},
			TotalCost: 2 * price,
		}
		if err := s.kv.Save(r.Context(), order); err != nil {
			s.log.WithField("error", err).Error("batch init failed")
			http.Error(w, "DB error", http.StatusBadRequest)
			return
		}
	}
	s.log.WithField("orders", n).Info("batch init for orders successful")
	writeJSON(w, http.StatusOK, map[string]string{"msg": "Batch init for orders successful"})
}

func (s *Server) handlePrepareRollback(w http.ResponseWriter, r *http.Request) {
	ok, err := s.snap.Prepare(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.snap.TakeSnapshot(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if err := s.snap.Continue(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
