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

// Package keyval provides a typed facade over a key-value store with
// server-side atomic scripts and durable streams. Records are stored
// field-addressably under model:<id>:<field>, which is what makes
// single-field atomic scripts possible without read-modify-write on
// whole records.
package keyval

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by KV implementations. Everything else is an
// operational error wrapped with context.
var (
	// ErrNotNumeric is returned by Increment when the stored field holds a
	// non-integer value.
	ErrNotNumeric = errors.New("keyval: field is not numeric")

	// ErrConflict is returned by Watch when a watched key changed before the
	// queued writes were applied. Callers retry (bounded).
	ErrConflict = errors.New("keyval: optimistic transaction conflict")
)

// Record is implemented by model types that know how to encode themselves
// to and from the per-field key layout.
type Record interface {
	// RecordID returns the id segment of the record's keys.
	RecordID() string
	// FieldNames lists every persisted field, in a stable order.
	FieldNames() []string
	// Encode serializes all non-id fields. Ints are decimal strings, bools
	// lowercase, lists and maps JSON text.
	Encode() map[string]string
	// Decode populates the record from stored field values. get reports
	// whether the field was present; absent fields keep their defaults.
	Decode(id string, get func(field string) (string, bool)) error
}

// FieldKey names a single record field, used for watch sets.
type FieldKey struct {
	ID    string
	Field string
}

// Tx is the handle passed to a Watch body. Reads go to the store directly;
// writes are queued and applied atomically only if no watched key changed.
type Tx interface {
	GetAttr(id, field string) (string, bool, error)
	SetAttr(id, field, value string)
	Increment(id, field string, delta int64)
}

// KV is the store contract shared by the Redis implementation and the
// in-memory double. Operations either succeed, return an explicit sentinel
// (false / not-found), or surface an error.
type KV interface {
	// Load reads every field of rec. It reports found=false when no field
	// of the record exists.
	Load(ctx context.Context, id string, rec Record) (bool, error)
	// Save writes every field of rec. Not atomic across fields; callers
	// that need atomicity use the scripts below.
	Save(ctx context.Context, rec Record) error
	// Delete removes every model:<id>:* key, reporting whether any existed.
	Delete(ctx context.Context, id string) (bool, error)

	GetAttr(ctx context.Context, id, field string) (string, bool, error)
	SetAttr(ctx context.Context, id, field, value string) error

	// Increment atomically adds delta to an integer field and returns the
	// new value. Fails with ErrNotNumeric on non-integer fields.
	Increment(ctx context.Context, id, field string, delta int64) (int64, error)

	// CompareAndSet atomically swaps a field from expected to next,
	// reporting whether the swap happened. Executed store-side.
	CompareAndSet(ctx context.Context, id, field, expected, next string) (bool, error)

	// LTEDecrement atomically decrements field by amount iff amount <= the
	// current value, flipping model:<tid>:status to SUCCESS or FAILURE and
	// adjusting committed_<field> in the same script invocation.
	LTEDecrement(ctx context.Context, id, field string, amount int64, tid string) (bool, error)

	// MGTEDecrement is the all-or-nothing bulk variant over many ids.
	MGTEDecrement(ctx context.Context, tid string, changes map[string]int64, field string) (bool, error)

	// Watch runs fn under optimistic concurrency over the given keys.
	// Returns ErrConflict when a watched key changed.
	Watch(ctx context.Context, fn func(tx Tx) error, keys ...FieldKey) error

	// SetNX, Del and Exists operate on raw (non-model) keys and back the
	// snapshot lock.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Snapshot requests a point-in-time durable image of the store.
	Snapshot(ctx context.Context) error
}

// Producer appends events to the transactions stream.
type Producer interface {
	Push(ctx context.Context, tid string) error
	// Len reports the number of entries currently in the stream.
	Len(ctx context.Context) (int64, error)
}

// Handler processes one stream event. A nil return acknowledges and deletes
// the entry; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, tid string) error

// Consumer drains the transactions stream with consumer-group semantics:
// at-least-once, explicit ack, delete after ack.
type Consumer interface {
	// Consume blocks until ctx is done, invoking h for each event. The
	// optional gate runs before every read; the snapshot protocol uses it
	// to freeze consumers at a stream boundary.
	Consume(ctx context.Context, gate func(ctx context.Context) error, h Handler) error
}

// Key builds the storage key for one record field.
func Key(id, field string) string {
	return "model:" + id + ":" + field
}

// keyPattern matches every field of one record.
func keyPattern(id string) string {
	return "model:" + id + ":*"
}
