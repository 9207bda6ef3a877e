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

// Package telemetry holds the Prometheus counters of the checkout fabric
// and a small standalone /metrics endpoint. Labels stay low-cardinality:
// service names and action/outcome enums only, never ids.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CheckoutsTotal counts orchestrator outcomes: accepted, rejected, halted.
	CheckoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_checkouts_total",
		Help: "Checkout requests by orchestrator outcome",
	}, []string{"outcome"})

	// ReconcileActions counts vibe-checker resolutions per service.
	ReconcileActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconcile_actions_total",
		Help: "Reconciliation actions (commit, rollback, skip) by service",
	}, []string{"service", "action"})

	// StreamRequeues counts explicit pushes back onto the transactions stream.
	StreamRequeues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_stream_requeues_total",
		Help: "Transactions pushed back to the stream (pending or contested)",
	}, []string{"service", "reason"})

	// StaleTransactions counts STALE records written after vibe-check
	// retries exhausted.
	StaleTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_stale_transactions_total",
		Help: "Transactions marked STALE by a peer vibe check",
	}, []string{"service"})

	// SnapshotCycles counts completed snapshot rounds of the controller.
	SnapshotCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_snapshot_cycles_total",
		Help: "Completed global snapshot cycles",
	})
)

func init() {
	prometheus.MustRegister(
		CheckoutsTotal,
		ReconcileActions,
		StreamRequeues,
		StaleTransactions,
		SnapshotCycles,
	)
}

// Serve exposes /metrics on its own listener. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
