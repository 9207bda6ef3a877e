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

// Package models defines the records of the checkout fabric and their
// hand-written field codecs. Each record serializes to a set of
// model:<id>:<field> keys: ints as decimal strings, bools lowercase,
// lists and maps as JSON text.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"checkout/internal/keyval"
)

// TransactionStatus is the lifecycle state of one saga leg.
type TransactionStatus string

const (
	StatusPending TransactionStatus = keyval.StatusPending
	StatusSuccess TransactionStatus = keyval.StatusSuccess
	StatusFailure TransactionStatus = keyval.StatusFailure
	StatusStale   TransactionStatus = keyval.StatusStale
)

// Well-known record ids used by the snapshot protocol.
const (
	HaltedFlagID      = "HALTED"
	HaltedConsumersID = "halted_consumers_counter"
	SnapshotLockKey   = "snapshot_lock"
)

func decodeInt(get func(string) (string, bool), field string, dst *int64) error {
	v, ok := get(field)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("models: field %s: %w", field, err)
	}
	*dst = n
	return nil
}

func decodeBool(get func(string) (string, bool), field string, dst *bool) error {
	v, ok := get(field)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("models: field %s: %w", field, err)
	}
	*dst = b
	return nil
}

// User holds a credit balance plus the committed-credit bookkeeping counter.
type User struct {
	ID              string
	Credit          int64
	CommittedCredit int64
}

func (u *User) RecordID() string     { return u.ID }
func (u *User) FieldNames() []string { return []string{"credit", "committed_credit"} }

func (u *User) Encode() map[string]string {
	return map[string]string{
		"credit":           keyval.FormatInt(u.Credit),
		"committed_credit": keyval.FormatInt(u.CommittedCredit),
	}
}

func (u *User) Decode(id string, get func(string) (string, bool)) error {
	u.ID = id
	if err := decodeInt(get, "credit", &u.Credit); err != nil {
		return err
	}
	return decodeInt(get, "committed_credit", &u.CommittedCredit)
}

// Item is a stock entry; committed_stock mirrors committed_credit for
// inventory.
type Item struct {
	ID             string
	Stock          int64
	Price          int64
	CommittedStock int64
}

func (i *Item) RecordID() string     { return i.ID }
func (i *Item) FieldNames() []string { return []string{"stock", "price", "committed_stock"} }

func (i *Item) Encode() map[string]string {
	return map[string]string{
		"stock":           keyval.FormatInt(i.Stock),
		"price":           keyval.FormatInt(i.Price),
		"committed_stock": keyval.FormatInt(i.CommittedStock),
	}
}

func (i *Item) Decode(id string, get func(string) (string, bool)) error {
	i.ID = id
	if err := decodeInt(get, "stock", &i.Stock); err != nil {
		return err
	}
	if err := decodeInt(get, "price", &i.Price); err != nil {
		return err
	}
	return decodeInt(get, "committed_stock", &i.CommittedStock)
}

// Order is a checkout target. Paid is a counter of successful checkouts,
// not a boolean; idempotent commits increment it and finders compare it to
// zero. Items holds "item:qty" entries.
type Order struct {
	ID        string
	Paid      int64
	Items     []string
	UserID    string
	TotalCost int64
}

func (o *Order) RecordID() string { return o.ID }
func (o *Order) FieldNames() []string {
	return []string{"paid", "items", "user_id", "total_cost"}
}

func (o *Order) Encode() map[string]string {
	items, _ := json.Marshal(o.Items)
	return map[string]string{
		"paid":       keyval.FormatInt(o.Paid),
		"items":      string(items),
		"user_id":    o.UserID,
		"total_cost": keyval.FormatInt(o.TotalCost),
	}
}

func (o *Order) Decode(id string, get func(string) (string, bool)) error {
	o.ID = id
	if err := decodeInt(get, "paid", &o.Paid); err != nil {
		return err
	}
	if v, ok := get("items"); ok {
		if err := json.Unmarshal([]byte(v), &o.Items); err != nil {
			return fmt.Errorf("models: field items: %w", err)
		}
	}
	if v, ok := get("user_id"); ok {
		o.UserID = v
	}
	return decodeInt(get, "total_cost", &o.TotalCost)
}

// EncodeItems renders the items list for single-field writes.
func EncodeItems(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

// DecodeItems parses a stored items field.
func DecodeItems(v string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		return nil, fmt.Errorf("models: items: %w", err)
	}
	return items, nil
}

// AggregateItems folds "item:qty" entries into per-item totals.
func AggregateItems(items []string) (map[string]int64, error) {
	out := make(map[string]int64, len(items))
	for _, entry := range items {
		sep := strings.LastIndex(entry, ":")
		if sep <= 0 {
			return nil, fmt.Errorf("models: malformed item entry %q", entry)
		}
		qty, err := strconv.ParseInt(entry[sep+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("models: malformed item entry %q: %w", entry, err)
		}
		out[entry[:sep]] += qty
	}
	return out, nil
}

// Transaction is the ground truth of one saga leg. It is written before the
// atomic decrement runs, so the stream event and the peer's vibe check always
// find it; the decrement script flips Status atomically. Details records the
// per-key deltas this leg applied, keyed by user or item id, and drives
// compensation. Locked is the advisory reconciliation lock.
type Transaction struct {
	ID           string
	Status       TransactionStatus
	Details      map[string]int64
	CreatedAt    int64
	Locked       bool
	PendingCount int64
}

func (t *Transaction) RecordID() string { return t.ID }
func (t *Transaction) FieldNames() []string {
	return []string{"status", "details", "created_at", "locked", "pending_count"}
}

func (t *Transaction) Encode() map[string]string {
	details, _ := json.Marshal(t.Details)
	return map[string]string{
		"status":        string(t.Status),
		"details":       string(details),
		"created_at":    keyval.FormatInt(t.CreatedAt),
		"locked":        keyval.FormatBool(t.Locked),
		"pending_count": keyval.FormatInt(t.PendingCount),
	}
}

func (t *Transaction) Decode(id string, get func(string) (string, bool)) error {
	t.ID = id
	if v, ok := get("status"); ok {
		t.Status = TransactionStatus(v)
	}
	if v, ok := get("details"); ok {
		if err := json.Unmarshal([]byte(v), &t.Details); err != nil {
			return fmt.Errorf("models: field details: %w", err)
		}
	}
	if err := decodeInt(get, "created_at", &t.CreatedAt); err != nil {
		return err
	}
	if err := decodeBool(get, "locked", &t.Locked); err != nil {
		return err
	}
	return decodeInt(get, "pending_count", &t.PendingCount)
}

// Counter is a bare named count, used by the snapshot protocol.
type Counter struct {
	ID    string
	Count int64
}

func (c *Counter) RecordID() string     { return c.ID }
func (c *Counter) FieldNames() []string { return []string{"count"} }

func (c *Counter) Encode() map[string]string {
	return map[string]string{"count": keyval.FormatInt(c.Count)}
}

func (c *Counter) Decode(id string, get func(string) (string, bool)) error {
	c.ID = id
	return decodeInt(get, "count", &c.Count)
}

// Flag is a named advisory boolean, used for HALTED.
type Flag struct {
	ID      string
	Enabled bool
}

func (f *Flag) RecordID() string     { return f.ID }
func (f *Flag) FieldNames() []string { return []string{"enabled"} }

func (f *Flag) Encode() map[string]string {
	return map[string]string{"enabled": keyval.FormatBool(f.Enabled)}
}

func (f *Flag) Decode(id string, get func(string) (string, bool)) error {
	f.ID = id
	return decodeBool(get, "enabled", &f.Enabled)
}
