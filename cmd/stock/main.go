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

// Package main runs the stock service: the gRPC inventory API, its
// reconciliation stream consumers, and the Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"

	"checkout/internal/keyval"
	"checkout/internal/reconcile"
	"checkout/internal/rpc"
	"checkout/internal/snapshot"
	"checkout/internal/stock"
	"checkout/internal/telemetry"
)

type options struct {
	GRPCAddr    string `long:"grpc-addr" env:"GRPC_ADDR" default:":50051" description:"gRPC listen address"`
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9101" description:"Prometheus metrics listen address"`

	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the stock store"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" default:"" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	PaymentAddr string `long:"payment-addr" env:"PAYMENT_ADDR" default:"localhost:50052" description:"Payment service gRPC address"`

	Consumers int `long:"consumers" env:"CONSUMERS" default:"4" description:"Number of reconciliation stream consumers"`

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
	logger := log.WithField("service", "stock")

	// 1. Open the stock store and its transaction stream.
	kv := keyval.Open(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	defer kv.Close()
	producer := keyval.NewStreamProducer(kv.Client(), keyval.TransactionsStream)

	// 2. Dial the payment peer for vibe checks.
	conn, err := rpc.Dial(opts.PaymentAddr)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to dial payment service")
	}
	defer conn.Close()
	var peer reconcile.PeerClient = rpc.NewPaymentClient(conn)

	// 3. Wire the service and its snapshot state.
	snap := snapshot.New(kv, int64(opts.Consumers))
	svc := stock.New(kv, producer, peer, snap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Start the reconciliation stream consumers.
	for i := 0; i < opts.Consumers; i++ {
		name := fmt.Sprintf("stock-consumer-%d", i)
		consumer, err := keyval.NewStreamConsumer(ctx, kv.Client(), keyval.TransactionsStream, keyval.ConsumerGroup, name)
		if err != nil {
			logger.WithField("error", err).Fatal("failed to create stream consumer")
		}
		go func() {
			if err := consumer.Consume(ctx, snap.Gate, svc.Checker().Handle); err != nil && ctx.Err() == nil {
				logger.WithField("error", err).Error("consumer stopped")
			}
		}()
	}

	// 5. Serve metrics on a side port.
	go func() {
		if err := telemetry.Serve(opts.MetricsAddr); err != nil {
			logger.WithField("error", err).Error("metrics server stopped")
		}
	}()

	// 6. Serve gRPC.
	lis, err := net.Listen("tcp", opts.GRPCAddr)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to listen")
	}
	srv := rpc.NewServer()
	rpc.RegisterStockServer(srv, svc)
	grpcprometheus.Register(srv)

	go func() {
		logger.WithField("addr", opts.GRPCAddr).Info("stock service listening")
		if err := srv.Serve(lis); err != nil {
			logger.WithField("error", err).Fatal("gRPC server failed")
		}
	}()

	// 7. Wait for a signal, then drain.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	srv.GracefulStop()
}
