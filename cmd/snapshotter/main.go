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

// Package main runs the snapshotter: a cron-style driver for the coordinated
// snapshot cycle across the order, stock and payment services.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"checkout/internal/rpc"
	"checkout/internal/snapctl"
	"checkout/internal/telemetry"
)

type options struct {
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9103" description:"Prometheus metrics listen address"`

	OrderURL    string `long:"order-url" env:"ORDER_URL" default:"http://localhost:8000" description:"Order service base URL"`
	StockAddr   string `long:"stock-addr" env:"STOCK_ADDR" default:"localhost:50051" description:"Stock service gRPC address"`
	PaymentAddr string `long:"payment-addr" env:"PAYMENT_ADDR" default:"localhost:50052" description:"Payment service gRPC address"`

	Interval time.Duration `long:"interval" env:"INTERVAL" default:"60s" description:"Time between snapshot cycles"`

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
	logger := log.WithField("service", "snapshotter")

	// 1. Dial the two gRPC snapshot surfaces.
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

	// 2. Wire the controller.
	controller := snapctl.New(opts.OrderURL, rpc.NewStockClient(stockConn), rpc.NewPaymentClient(paymentConn))
	controller.Interval = opts.Interval

	// 3. Serve metrics on a side port.
	go func() {
		if err := telemetry.Serve(opts.MetricsAddr); err != nil {
			logger.WithField("error", err).Error("metrics server stopped")
		}
	}()

	// 4. Run cycles until signalled.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	if err := controller.Run(ctx); err != nil && err != context.Canceled {
		logger.WithField("error", err).Fatal("snapshotter stopped")
	}
}
