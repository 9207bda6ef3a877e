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

// Package snapshot implements the per-service side of the coordinated
// snapshot protocol: the HALTED flag, the halted-consumers counter, and the
// snapshot lock. Stream consumers freeze at a read boundary via Gate; the
// controller drives Prepare, Ready, TakeSnapshot and Continue.
package snapshot

import (
	"context"
	"time"

	"checkout/internal/keyval"
	"checkout/internal/models"
)

// LockTTL bounds how long a crashed controller can leave a service frozen.
const LockTTL = 5 * time.Second

// State is one service's snapshot lifecycle.
type State struct {
	kv                keyval.KV
	expectedConsumers int64

	// pollInterval is how often a gated consumer re-checks the lock.
	pollInterval time.Duration
}

// New builds the state; expectedConsumers is the replica count whose
// consumers must freeze before the store is quiet.
func New(kv keyval.KV, expectedConsumers int64) *State {
	return &State{
		kv:                kv,
		expectedConsumers: expectedConsumers,
		pollInterval:      50 * time.Millisecond,
	}
}

// Prepare acquires the snapshot lock and raises HALTED. Reports false when
// the lock is already held (another round in progress).
func (s *State) Prepare(ctx context.Context) (bool, error) {
	ok, err := s.kv.SetNX(ctx, models.SnapshotLockKey, "1", LockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := s.kv.Save(ctx, &models.Flag{ID: models.HaltedFlagID, Enabled: true}); err != nil {
		return false, err
	}
	return true, nil
}

// Ready reports whether every expected consumer has frozen.
func (s *State) Ready(ctx context.Context) (bool, error) {
	counter := &models.Counter{}
	if _, err := s.kv.Load(ctx, models.HaltedConsumersID, counter); err != nil {
		return false, err
	}
	return counter.Count >= s.expectedConsumers, nil
}

// TakeSnapshot requests the store's point-in-time image.
func (s *State) TakeSnapshot(ctx context.Context) error {
	return s.kv.Snapshot(ctx)
}

// Continue lowers HALTED, resets the counter and releases the lock, in that
// order so waking consumers observe HALTED=false and do not re-increment.
func (s *State) Continue(ctx context.Context) error {
	if err := s.kv.Save(ctx, &models.Flag{ID: models.HaltedFlagID, Enabled: false}); err != nil {
		return err
	}
	if err := s.kv.Save(ctx, &models.Counter{ID: models.HaltedConsumersID, Count: 0}); err != nil {
		return err
	}
	return s.kv.Del(ctx, models.SnapshotLockKey)
}

// Halted reports the advisory flag; the orchestrator refuses new checkouts
// while it is raised.
func (s *State) Halted(ctx context.Context) (bool, error) {
	flag := &models.Flag{}
	if _, err := s.kv.Load(ctx, models.HaltedFlagID, flag); err != nil {
		return false, err
	}
	return flag.Enabled, nil
}

// Gate runs before every stream read. When HALTED is raised it increments
// the halted-consumers counter once and blocks until the snapshot lock is
// released, freezing the consumer at a stream boundary.
func (s *State) Gate(ctx context.Context) error {
	halted, err := s.Halted(ctx)
	if err != nil || !halted {
		return err
	}
	if _, err := s.kv.Increment(ctx, models.HaltedConsumersID, "count", 1); err != nil {
		return err
	}
	for {
		held, err := s.kv.Exists(ctx, models.SnapshotLockKey)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}
