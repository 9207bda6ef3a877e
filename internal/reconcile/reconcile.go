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

// Package reconcile implements the vibe checker: the at-least-once stream
// consumer that pairs the stock and payment legs of each checkout saga,
// compensating on divergence and committing on convergence. The same engine
// runs on both services, parameterized by the resource field it restores.
package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"checkout/internal/keyval"
	"checkout/internal/models"
	"checkout/internal/rpc"
	"checkout/internal/telemetry"
)

// PeerClient reaches the opposite leg's vibe-check endpoint.
type PeerClient interface {
	VibeCheckTransactionStatus(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error)
}

// OrderCommitter finalizes an order once both legs agree. Only one side of
// the saga carries a committer, so exactly one commit request is issued per
// converged pair.
type OrderCommitter interface {
	CommitCheckout(ctx context.Context, tid string) error
}

// Checker is one service's reconciliation engine.
type Checker struct {
	kv        keyval.KV
	producer  keyval.Producer
	peer      PeerClient
	field     string
	service   string
	committer OrderCommitter

	rpcTimeout  time.Duration
	findRetries int
	findDelay   time.Duration
	jitterMin   time.Duration
	jitterMax   time.Duration

	// sleep is swappable in tests.
	sleep func(time.Duration)

	log *log.Entry
}

// New builds a checker. field is the balance field this service owns
// ("stock" or "credit"); committer may be nil.
func New(kv keyval.KV, producer keyval.Producer, peer PeerClient, service, field string, committer OrderCommitter) *Checker {
	return &Checker{
		kv:          kv,
		producer:    producer,
		peer:        peer,
		field:       field,
		service:     service,
		committer:   committer,
		// The deadline must cover the peer's full find budget
		// (findRetries x findDelay) plus slack, or a one-sided saga can
		// never age out: the peer would be cancelled mid-retry on every
		// delivery and the STALE record would never be written.
		rpcTimeout:  6 * time.Second,
		findRetries: 10,
		findDelay:   500 * time.Millisecond,
		jitterMin:   10 * time.Millisecond,
		jitterMax:   100 * time.Millisecond,
		sleep:       time.Sleep,
		log:         log.WithField("service", service),
	}
}

func (c *Checker) jitter() {
	span := c.jitterMax - c.jitterMin
	c.sleep(c.jitterMin + time.Duration(rand.Int63n(int64(span))))
}

// requeue pushes the tid back onto the stream after a jittered pause so a
// contested lock does not hot-loop.
func (c *Checker) requeue(ctx context.Context, tid, reason string) error {
	telemetry.StreamRequeues.WithLabelValues(c.service, reason).Inc()
	c.jitter()
	return c.producer.Push(ctx, tid)
}

func (c *Checker) unlock(ctx context.Context, tid string) {
	if err := c.kv.SetAttr(ctx, tid, "locked", keyval.FormatBool(false)); err != nil {
		c.log.WithFields(log.Fields{"tid": tid, "error": err}).Error("failed to release transaction lock")
	}
}

// Handle processes one stream event. A nil return acknowledges the entry;
// requeues are explicit pushes, so the original entry is still acked.
func (c *Checker) Handle(ctx context.Context, tid string) error {
	logger := c.log.WithField("tid", tid)

	txn := &models.Transaction{}
	found, err := c.kv.Load(ctx, tid, txn)
	if err != nil {
		return fmt.Errorf("reconcile: load %s: %w", tid, err)
	}
	if !found || txn.Status == models.StatusStale {
		// Already reconciled (duplicate delivery) or aged out.
		telemetry.ReconcileActions.WithLabelValues(c.service, "skip").Inc()
		logger.Info("transaction missing or stale, skipping")
		return nil
	}

	locked, err := c.kv.CompareAndSet(ctx, tid, "locked", keyval.FormatBool(false), keyval.FormatBool(true))
	if err != nil {
		return fmt.Errorf("reconcile: lock %s: %w", tid, err)
	}
	if !locked {
		logger.Warn("transaction locked, pushing back")
		return c.requeue(ctx, tid, "contested")
	}

	if txn.Status == models.StatusPending {
		// Common race: the stream event arrived before the decrement script
		// flipped the status.
		logger.Info("transaction still pending")
		if _, err := c.kv.Increment(ctx, tid, "pending_count", 1); err != nil {
			logger.WithField("error", err).Error("failed to bump pending_count")
		}
		c.unlock(ctx, tid)
		return c.requeue(ctx, tid, "pending")
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	resp, err := c.peer.VibeCheckTransactionStatus(rpcCtx, &rpc.TransactionStatus{
		Tid:     tid,
		Success: txn.Status == models.StatusSuccess,
		Status:  string(txn.Status),
	})
	cancel()
	if err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			logger.Warn("transaction locked remotely")
		} else {
			logger.WithField("error", err).Error("vibe check failed")
		}
		c.unlock(ctx, tid)
		return c.requeue(ctx, tid, "peer_error")
	}

	if _, err := c.kv.Delete(ctx, tid); err != nil {
		return fmt.Errorf("reconcile: delete %s: %w", tid, err)
	}
	return c.resolve(ctx, txn, peerSucceeded(resp), logger)
}

func peerSucceeded(resp *rpc.TransactionStatus) bool {
	if resp.Status != "" {
		return resp.Status == keyval.StatusSuccess
	}
	return resp.Success
}

// resolve applies the reconciliation table for a local leg whose peer
// outcome is known. The local record is already deleted, so duplicate
// deliveries of the same tid find nothing to act on.
func (c *Checker) resolve(ctx context.Context, txn *models.Transaction, peerOK bool, logger *log.Entry) error {
	if txn.Status != models.StatusSuccess {
		// Nothing was debited locally; nothing to undo.
		telemetry.ReconcileActions.WithLabelValues(c.service, "skip").Inc()
		return nil
	}
	committed := keyval.CommittedField(c.field)
	if !peerOK {
		logger.Info("peer leg failed, rolling back")
		for id, delta := range txn.Details {
			if _, err := c.kv.Increment(ctx, id, c.field, delta); err != nil {
				return fmt.Errorf("reconcile: rollback %s.%s: %w", id, c.field, err)
			}
			if _, err := c.kv.Increment(ctx, id, committed, -delta); err != nil {
				return fmt.Errorf("reconcile: rollback %s.%s: %w", id, committed, err)
			}
		}
		telemetry.ReconcileActions.WithLabelValues(c.service, "rollback").Inc()
		return nil
	}

	logger.Info("both legs succeeded, committing")
	for id, delta := range txn.Details {
		if _, err := c.kv.Increment(ctx, id, committed, -delta); err != nil {
			return fmt.Errorf("reconcile: commit %s.%s: %w", id, committed, err)
		}
	}
	telemetry.ReconcileActions.WithLabelValues(c.service, "commit").Inc()
	if c.committer != nil {
		if err := c.committer.CommitCheckout(ctx, txn.ID); err != nil {
			// The order-side record keeps the commit idempotent, so a retry
			// via redelivery is safe; but the local record is gone. Log and
			// move on: the commit endpoint is best-effort reachable.
			logger.WithField("error", err).Error("failed to commit order")
		}
	}
	return nil
}

// HandleVibeCheck answers the peer's pairing call. It finds the local
// record (retrying while it is missing or pending), takes the advisory
// lock, deletes the record, and resolves from this side using the caller's
// outcome. Exactly one side therefore observes both outcomes.
func (c *Checker) HandleVibeCheck(ctx context.Context, req *rpc.TransactionStatus) (*rpc.TransactionStatus, error) {
	logger := c.log.WithField("tid", req.Tid)

	txn := &models.Transaction{}
	var found bool
	for attempt := 0; attempt < c.findRetries; attempt++ {
		var err error
		found, err = c.kv.Load(ctx, req.Tid, txn)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		if found && txn.Status != models.StatusPending {
			break
		}
		if ctx.Err() != nil {
			// The caller hung up mid-budget. Stop retrying but still fall
			// through to the aging-out paths below: the STALE write is what
			// unblocks the pair, and skipping it here would leave the next
			// delivery repeating the same truncated wait forever.
			break
		}
		c.sleep(c.findDelay)
	}

	// Aging-out writes survive the caller's cancellation; the record is
	// local state, not part of the response.
	writeCtx := context.WithoutCancel(ctx)

	if !found {
		// The local leg never materialized. Write a STALE record so a late
		// arrival of the creator's write is rejected, and tell the caller
		// to compensate.
		telemetry.StaleTransactions.WithLabelValues(c.service).Inc()
		logger.Warn("transaction not found, writing stale record")
		stale := &models.Transaction{
			ID:        req.Tid,
			Status:    models.StatusStale,
			Details:   map[string]int64{},
			CreatedAt: time.Now().Unix(),
		}
		if err := c.kv.Save(writeCtx, stale); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &rpc.TransactionStatus{Tid: req.Tid, Success: false, Status: keyval.StatusStale}, nil
	}

	if txn.Status == models.StatusPending {
		// Retries exhausted with the leg still pending; age it out. The
		// decrement script never ran to completion, so there is nothing to
		// undo locally.
		telemetry.StaleTransactions.WithLabelValues(c.service).Inc()
		logger.Warn("transaction pending past retry budget, marking stale")
		if err := c.kv.SetAttr(writeCtx, req.Tid, "status", keyval.StatusStale); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &rpc.TransactionStatus{Tid: req.Tid, Success: false, Status: keyval.StatusStale}, nil
	}

	locked, err := c.kv.CompareAndSet(ctx, req.Tid, "locked", keyval.FormatBool(false), keyval.FormatBool(true))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !locked {
		return nil, status.Error(codes.FailedPrecondition, "transaction locked")
	}

	if _, err := c.kv.Delete(ctx, req.Tid); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := c.resolve(ctx, txn, req.Success, logger); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.TransactionStatus{
		Tid:     req.Tid,
		Success: txn.Status == models.StatusSuccess,
		Status:  string(txn.Status),
	}, nil
}
