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

package rpc

// OperationResponse is the standard OK/error carrier.
type OperationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Empty is the request of the snapshot quartet.
type Empty struct{}

// Item mirrors the stock record on the wire.
type Item struct {
	ID    string `json:"id"`
	Stock int64  `json:"stock"`
	Price int64  `json:"price"`
}

// FindItemRequest asks for one item.
type FindItemRequest struct {
	ItemID string `json:"item_id"`
}

// StockAdjustment adds or removes stock for one item. Tid ties a removal to
// its saga; it is empty for plain additions.
type StockAdjustment struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
	Tid      string `json:"tid,omitempty"`
}

// StockAdjustmentResponse reports the outcome plus the price of the
// adjusted quantity.
type StockAdjustmentResponse struct {
	Status OperationResponse `json:"status"`
	Price  int64             `json:"price"`
}

// ItemQuantity is one line of a bulk adjustment.
type ItemQuantity struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// BulkStockAdjustment carries an all-or-nothing multi-item order or a
// per-item refund.
type BulkStockAdjustment struct {
	Items []ItemQuantity `json:"items"`
	Tid   string         `json:"tid,omitempty"`
}

// BulkStockAdjustmentResponse reports the outcome plus the total cost of
// the removed items.
type BulkStockAdjustmentResponse struct {
	Status    OperationResponse `json:"status"`
	TotalCost int64             `json:"total_cost"`
}

// TransactionStatus is the vibe-check exchange: the caller sends its own
// leg's outcome, the peer answers with its record's state (possibly STALE).
type TransactionStatus struct {
	Tid     string `json:"tid"`
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
}

// User mirrors the payment record on the wire.
type User struct {
	ID     string `json:"id"`
	Credit int64  `json:"credit"`
}

// PaymentRequest debits a user inside a saga.
type PaymentRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Tid    string `json:"tid,omitempty"`
}

// PaymentResponse reports a debit outcome.
type PaymentResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AddFundsRequest credits a user unconditionally.
type AddFundsRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// FindUserRequest asks for one user.
type FindUserRequest struct {
	UserID string `json:"user_id"`
}

// FindUserResponse carries the found user.
type FindUserResponse struct {
	User User `json:"user"`
}
