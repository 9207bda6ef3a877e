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
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process KV with the same contract as the Redis store,
// including the script semantics. It exists so unit tests and demos do not
// need a live Redis. Not for production use.
type Memory struct {
	mu       sync.Mutex
	data     map[string]string
	versions map[string]uint64
	expiry   map[string]time.Time

	// SnapshotCount counts Snapshot calls, for test assertions.
	SnapshotCount int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]string),
		versions: make(map[string]uint64),
		expiry:   make(map[string]time.Time),
	}
}

func (m *Memory) getLocked(key string) (string, bool) {
	if exp, ok := m.expiry[key]; ok && time.Now().After(exp) {
		delete(m.data, key)
		delete(m.expiry, key)
	}
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) setLocked(key, value string) {
	m.data[key] = value
	delete(m.expiry, key)
	m.versions[key]++
}

func (m *Memory) incrLocked(key string, delta int64) (int64, error) {
	cur := int64(0)
	if v, ok := m.getLocked(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, ErrNotNumeric
		}
		cur = n
	}
	cur += delta
	m.setLocked(key, strconv.FormatInt(cur, 10))
	return cur, nil
}

func (m *Memory) Load(ctx context.Context, id string, rec Record) (bool, error) {
	m.mu.Lock()
	present := make(map[string]string)
	for _, f := range rec.FieldNames() {
		if v, ok := m.getLocked(Key(id, f)); ok {
			present[f] = v
		}
	}
	m.mu.Unlock()
	if len(present) == 0 {
		return false, nil
	}
	if err := rec.Decode(id, func(field string) (string, bool) {
		v, ok := present[field]
		return v, ok
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for field, value := range rec.Encode() {
		m.setLocked(Key(rec.RecordID(), field), value)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := "model:" + id + ":"
	found := false
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			m.versions[key]++
			found = true
		}
	}
	return found, nil
}

func (m *Memory) GetAttr(ctx context.Context, id, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(Key(id, field))
	return v, ok, nil
}

func (m *Memory) SetAttr(ctx context.Context, id, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(Key(id, field), value)
	return nil
}

func (m *Memory) Increment(ctx context.Context, id, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrLocked(Key(id, field), delta)
}

func (m *Memory) CompareAndSet(ctx context.Context, id, field, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(id, field)
	cur, ok := m.getLocked(key)
	if !ok || cur != expected {
		return false, nil
	}
	m.setLocked(key, next)
	return true, nil
}

func (m *Memory) LTEDecrement(ctx context.Context, id, field string, amount int64, tid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	statusKey := Key(tid, "status")
	v, ok := m.getLocked(Key(id, field))
	if ok {
		cur, err := strconv.ParseInt(v, 10, 64)
		if err == nil && amount <= cur {
			m.setLocked(statusKey, StatusSuccess)
			m.incrLocked(Key(id, CommittedField(field)), amount)
			m.setLocked(Key(id, field), strconv.FormatInt(cur-amount, 10))
			return true, nil
		}
	}
	m.setLocked(statusKey, StatusFailure)
	return false, nil
}

func (m *Memory) MGTEDecrement(ctx context.Context, tid string, changes map[string]int64, field string) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	statusKey := Key(tid, "status")
	current := make(map[string]int64, len(changes))
	for id, amount := range changes {
		v, ok := m.getLocked(Key(id, field))
		if !ok {
			m.setLocked(statusKey, StatusFailure)
			return false, nil
		}
		cur, err := strconv.ParseInt(v, 10, 64)
		if err != nil || amount > cur {
			m.setLocked(statusKey, StatusFailure)
			return false, nil
		}
		current[id] = cur
	}
	for id, amount := range changes {
		m.setLocked(Key(id, field), strconv.FormatInt(current[id]-amount, 10))
		m.incrLocked(Key(id, CommittedField(field)), amount)
	}
	m.setLocked(statusKey, StatusSuccess)
	return true, nil
}

// memTx queues writes like the Redis pipeline does.
type memTx struct {
	m      *Memory
	writes []func()
}

func (t *memTx) GetAttr(id, field string) (string, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	v, ok := t.m.getLocked(Key(id, field))
	return v, ok, nil
}

func (t *memTx) SetAttr(id, field, value string) {
	t.writes = append(t.writes, func() { t.m.setLocked(Key(id, field), value) })
}

func (t *memTx) Increment(id, field string, delta int64) {
	t.writes = append(t.writes, func() { t.m.incrLocked(Key(id, field), delta) })
}

func (m *Memory) Watch(ctx context.Context, fn func(tx Tx) error, keys ...FieldKey) error {
	m.mu.Lock()
	snapshot := make(map[string]uint64, len(keys))
	for _, k := range keys {
		snapshot[Key(k.ID, k.Field)] = m.versions[Key(k.ID, k.Field)]
	}
	m.mu.Unlock()

	t := &memTx{m: m}
	if err := fn(t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ver := range snapshot {
		if m.versions[key] != ver {
			return ErrConflict
		}
	}
	for _, w := range t.writes {
		w()
	}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value)
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.expiry, key)
	m.versions[key]++
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.getLocked(key)
	return ok, nil
}

func (m *Memory) Snapshot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotCount++
	return nil
}

// MemoryStream is the in-process stream double. Entries whose handler fails
// are requeued, preserving at-least-once delivery.
type MemoryStream struct {
	mu      sync.Mutex
	entries []string
}

// NewMemoryStream returns an empty stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{}
}

func (s *MemoryStream) Push(ctx context.Context, tid string) error {
	s.mu.Lock()
	s.entries = append(s.entries, tid)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStream) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *MemoryStream) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", false
	}
	tid := s.entries[0]
	s.entries = s.entries[1:]
	return tid, true
}

func (s *MemoryStream) Consume(ctx context.Context, gate func(ctx context.Context) error, h Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}
		tid, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		if err := h(ctx, tid); err != nil {
			s.Push(ctx, tid)
		}
	}
}
