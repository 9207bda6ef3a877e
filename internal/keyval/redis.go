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
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store is the Redis-backed KV implementation. It uses
// github.com/redis/go-redis/v9; scripts run through redis.Script, which
// re-registers transparently after a NOSCRIPT (e.g. a Redis restart).
type Store struct {
	rdb redis.UniversalClient
}

// NewStore wraps an existing client.
func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Open connects to a single Redis instance.
func Open(addr, password string, db int) *Store {
	return NewStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// Client exposes the underlying connection for stream construction.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Load(ctx context.Context, id string, rec Record) (bool, error) {
	fields := rec.FieldNames()
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = Key(id, f)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("keyval: mget %s: %w", id, err)
	}
	present := make(map[string]string, len(fields))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			present[fields[i]] = str
		}
	}
	if len(present) == 0 {
		return false, nil
	}
	if err := rec.Decode(id, func(field string) (string, bool) {
		v, ok := present[field]
		return v, ok
	}); err != nil {
		return false, fmt.Errorf("keyval: decode %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	enc := rec.Encode()
	pairs := make([]interface{}, 0, 2*len(enc))
	for field, value := range enc {
		pairs = append(pairs, Key(rec.RecordID(), field), value)
	}
	if err := s.rdb.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("keyval: mset %s: %w", rec.RecordID(), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	keys, err := s.rdb.Keys(ctx, keyPattern(id)).Result()
	if err != nil {
		return false, fmt.Errorf("keyval: keys %s: %w", id, err)
	}
	if len(keys) == 0 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return false, fmt.Errorf("keyval: del %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) GetAttr(ctx context.Context, id, field string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, Key(id, field)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyval: get %s.%s: %w", id, field, err)
	}
	return v, true, nil
}

func (s *Store) SetAttr(ctx context.Context, id, field, value string) error {
	if err := s.rdb.Set(ctx, Key(id, field), value, 0).Err(); err != nil {
		return fmt.Errorf("keyval: set %s.%s: %w", id, field, err)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, id, field string, delta int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, Key(id, field), delta).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, ErrNotNumeric
		}
		return 0, fmt.Errorf("keyval: incrby %s.%s: %w", id, field, err)
	}
	return v, nil
}

func (s *Store) CompareAndSet(ctx context.Context, id, field, expected, next string) (bool, error) {
	res, err := compareAndSetScript.Run(ctx, s.rdb, []string{Key(id, field)}, expected, next).Int64()
	if err != nil {
		return false, fmt.Errorf("keyval: cas %s.%s: %w", id, field, err)
	}
	return res == 1, nil
}

func (s *Store) LTEDecrement(ctx context.Context, id, field string, amount int64, tid string) (bool, error) {
	keys := []string{
		Key(id, field),
		Key(tid, "status"),
		Key(id, CommittedField(field)),
	}
	res, err := lteDecrementScript.Run(ctx, s.rdb, keys, amount).Int64()
	if err != nil {
		return false, fmt.Errorf("keyval: lte_decrement %s.%s: %w", id, field, err)
	}
	return res != -1, nil
}

func (s *Store) MGTEDecrement(ctx context.Context, tid string, changes map[string]int64, field string) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}
	keys := make([]string, 0, 1+2*len(changes))
	keys = append(keys, Key(tid, "status"))
	committed := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes))
	for id, amount := range changes {
		keys = append(keys, Key(id, field))
		committed = append(committed, Key(id, CommittedField(field)))
		args = append(args, amount)
	}
	keys = append(keys, committed...)
	res, err := mGTEDecrementScript.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("keyval: m_gte_decrement %s: %w", tid, err)
	}
	return res != -1, nil
}

// redisTx queues writes for a Watch body and flushes them in TxPipelined.
type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(p redis.Pipeliner)
}

func (t *redisTx) GetAttr(id, field string) (string, bool, error) {
	v, err := t.tx.Get(t.ctx, Key(id, field)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyval: tx get %s.%s: %w", id, field, err)
	}
	return v, true, nil
}

func (t *redisTx) SetAttr(id, field, value string) {
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Set(t.ctx, Key(id, field), value, 0)
	})
}

func (t *redisTx) Increment(id, field string, delta int64) {
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.IncrBy(t.ctx, Key(id, field), delta)
	})
}

func (s *Store) Watch(ctx context.Context, fn func(tx Tx) error, keys ...FieldKey) error {
	watched := make([]string, len(keys))
	for i, k := range keys {
		watched[i] = Key(k.ID, k.Field)
	}
	err := s.rdb.Watch(ctx, func(rt *redis.Tx) error {
		t := &redisTx{ctx: ctx, tx: rt}
		if err := fn(t); err != nil {
			return err
		}
		_, err := rt.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, w := range t.writes {
				w(p)
			}
			return nil
		})
		return err
	}, watched...)
	if err == redis.TxFailedErr {
		return ErrConflict
	}
	return err
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keyval: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("keyval: del %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("keyval: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) Snapshot(ctx context.Context) error {
	if err := s.rdb.BgSave(ctx).Err(); err != nil {
		// BGSAVE refuses while a save is already in progress; the snapshot
		// controller treats that image as good enough.
		if strings.Contains(err.Error(), "in progress") {
			return nil
		}
		return fmt.Errorf("keyval: bgsave: %w", err)
	}
	return nil
}

// ParseInt converts a stored decimal field value.
func ParseInt(v string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
}

// FormatInt renders an integer field value.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatBool renders a bool field value (lowercase).
func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}
