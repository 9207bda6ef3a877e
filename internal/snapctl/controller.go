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

// Package snapctl drives the coordinated snapshot cycle across the three
// services: prepare everywhere, wait for every consumer to park, snapshot
// every store, then release. A failed prepare aborts the cycle by releasing
// whatever was already halted.
package snapctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"checkout/internal/rpc"
	"checkout/internal/telemetry"
)

// SnapshotRPC is the snapshot surface both gRPC services expose.
type SnapshotRPC interface {
	PrepareSnapshot(ctx context.Context) (*rpc.OperationResponse, error)
	CheckSnapshotReady(ctx context.Context) (*rpc.OperationResponse, error)
	Snapshot(ctx context.Context) (*rpc.OperationResponse, error)
	ContinueConsuming(ctx context.Context) (*rpc.OperationResponse, error)
}

// Controller runs the snapshot protocol on a fixed cron-like interval.
type Controller struct {
	orderBase string
	client    *http.Client
	stock     SnapshotRPC
	payment   SnapshotRPC

	// Interval between snapshot cycles.
	Interval time.Duration
	// PollInterval between readiness probes.
	PollInterval time.Duration
	// ReadyTimeout bounds the wait for consumers to park.
	ReadyTimeout time.Duration

	log *log.Entry
}

// New wires the controller against the order HTTP base URL and the two
// gRPC snapshot surfaces.
func New(orderBase string, stock, payment SnapshotRPC) *Controller {
	return &Controller{
		orderBase:    orderBase,
		client:       &http.Client{Timeout: 5 * time.Second},
		stock:        stock,
		payment:      payment,
		Interval:     60 * time.Second,
		PollInterval: 100 * time.Millisecond,
		ReadyTimeout: 30 * time.Second,
		log:          log.WithField("service", "snapshotter"),
	}
}

// Run executes snapshot cycles until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Cycle(ctx); err != nil {
				c.log.WithField("error", err).Error("snapshot cycle failed")
			}
		}
	}
}

// Cycle runs one full prepare/wait/snapshot/continue round.
func (c *Controller) Cycle(ctx context.Context) error {
	c.log.Info("starting snapshot cycle")

	if err := c.prepare(ctx); err != nil {
		// Release anything that did halt so a partial prepare cannot wedge
		// the fabric.
		c.release(ctx)
		return err
	}
	if err := c.waitReady(ctx); err != nil {
		c.release(ctx)
		return err
	}
	if err := c.snapshot(ctx); err != nil {
		c.release(ctx)
		return err
	}
	c.release(ctx)
	telemetry.SnapshotCycles.Inc()
	c.log.Info("snapshot cycle complete")
	return nil
}

func (c *Controller) prepare(ctx context.Context) error {
	ok, err := c.orderPost(ctx, "/prepare_rollback")
	if err != nil {
		return fmt.Errorf("snapctl: prepare order: %w", err)
	}
	if !ok {
		return fmt.Errorf("snapctl: order snapshot lock already held")
	}
	for name, svc := range map[string]SnapshotRPC{"stock": c.stock, "payment": c.payment} {
		resp, err := svc.PrepareSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapctl: prepare %s: %w", name, err)
		}
		if !resp.Success {
			return fmt.Errorf("snapctl: %s snapshot lock already held", name)
		}
	}
	return nil
}

func (c *Controller) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(c.ReadyTimeout)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("snapctl: consumers did not park within %s", c.ReadyTimeout)
		}
		ready := true
		for name, svc := range map[string]SnapshotRPC{"stock": c.stock, "payment": c.payment} {
			resp, err := svc.CheckSnapshotReady(ctx)
			if err != nil {
				return fmt.Errorf("snapctl: readiness %s: %w", name, err)
			}
			if !resp.Success {
				ready = false
			}
		}
		if ready {
			return nil
		}
		time.Sleep(c.PollInterval)
	}
}

func (c *Controller) snapshot(ctx context.Context) error {
	if _, err := c.orderPost(ctx, "/snapshot"); err != nil {
		return fmt.Errorf("snapctl: snapshot order: %w", err)
	}
	for name, svc := range map[string]SnapshotRPC{"stock": c.stock, "payment": c.payment} {
		if _, err := svc.Snapshot(ctx); err != nil {
			return fmt.Errorf("snapctl: snapshot %s: %w", name, err)
		}
	}
	return nil
}

// release resumes consumption everywhere. Errors are logged, not returned:
// every service must get its continue attempt even when one fails.
func (c *Controller) release(ctx context.Context) {
	if _, err := c.orderPost(ctx, "/continue"); err != nil {
		c.log.WithField("error", err).Error("failed to release order")
	}
	for name, svc := range map[string]SnapshotRPC{"stock": c.stock, "payment": c.payment} {
		if _, err := svc.ContinueConsuming(ctx); err != nil {
			c.log.WithFields(log.Fields{"target": name, "error": err}).Error("failed to release service")
		}
	}
}

func (c *Controller) orderPost(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.orderBase+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, body)
	}
	// The prepare endpoint reports lock contention in the body.
	result := struct {
		Success *bool `json:"success"`
	}{}
	if err := json.Unmarshal(body, &result); err != nil || result.Success == nil {
		return true, nil
	}
	return *result.Success, nil
}
