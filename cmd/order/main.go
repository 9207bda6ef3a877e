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

// Package main runs the order orchestrator: the HTTP order API that fans a
// checkout out to the stock and payment services.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"checkout/internal/keyval"
	"checkout/internal/order"
	"checkout/internal/rpc"
	"checkout/internal/snapshot"
	"checkout/internal/telemetry"
)

type options struct {
	HTTPAddr    string `long:"http-addr" env:"HTTP_ADDR" default:":8000" description:"HTTP listen address"`
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9100" description:"Prometheus metrics listen address"`

	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6381" description:"Redis address for the order store"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" default:"" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	StockAddr   string `long:"stock-addr" env:"STOCK_ADDR" default:"localhost:50051" description:"Stock service gRPC address"`
	PaymentAddr string `long:"payment-addr" env:"PAYMENT_ADDR" default:"localhost:50052" description:"Payment service gRPC address"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if lvl, err := log.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	logger := log.WithField("service", "order")

	// 1. Open the order store.
	kv := keyval.Open(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	defer kv.Close()

	// 2. Dial both saga legs.
	stockConn, err := rpc.Dial(opts.StockAddr)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to dial stock service")
	}
	defer stockConn.Close()
	paymentConn, err := rpc.Dial(opts.PaymentAddr)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to dial payment service")
	}
	defer paymentConn.Close()

	// 3. Wire the orchestrator. The order service runs no stream consumers,
	// so its snapshot state expects none to park.
	snap := snapshot.New(kv, 0)
	server := order.NewServer(kv, rpc.NewStockClient(stockConn), rpc.NewPaymentClient(paymentConn), snap)

	// 4. Serve metrics on a side port.
	go func() {
		if err := telemetry.Serve(opts.MetricsAddr); err != nil {
			logger.WithField("error", err).Error("metrics server stopped")
		}
	}()

	// 5. Serve HTTP.
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         opts.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.WithField("addr", opts.HTTPAddr).Info("order service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Fatal("HTTP server failed")
		}
	}()

	// 6. Wait for a signal, then drain in-flight requests.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithField("error", err).Error("HTTP shutdown failed")
	}
}
