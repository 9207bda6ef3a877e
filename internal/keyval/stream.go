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
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Stream names shared by every service replica.
const (
	TransactionsStream = "transactions"
	ConsumerGroup      = "transaction_consumer_group"
)

// StreamProducer appends {tid} events to a Redis stream.
type StreamProducer struct {
	rdb redis.UniversalClient
	key string
}

// NewStreamProducer builds a producer for the given stream key.
func NewStreamProducer(rdb redis.UniversalClient, key string) *StreamProducer {
	return &StreamProducer{rdb: rdb, key: key}
}

func (p *StreamProducer) Push(ctx context.Context, tid string) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.key,
		Values: map[string]interface{}{"tid": tid},
	}).Err()
	if err != nil {
		return fmt.Errorf("keyval: xadd %s: %w", p.key, err)
	}
	return nil
}

func (p *StreamProducer) Len(ctx context.Context) (int64, error) {
	n, err := p.rdb.XLen(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("keyval: xlen %s: %w", p.key, err)
	}
	return n, nil
}

// StreamConsumer drains a Redis stream within a consumer group. Entries are
// acknowledged and deleted only after the handler returns nil, so processing
// is at-least-once.
type StreamConsumer struct {
	rdb      redis.UniversalClient
	key      string
	group    string
	consumer string
	block    time.Duration
}

// NewStreamConsumer builds a consumer and ensures the group exists.
func NewStreamConsumer(ctx context.Context, rdb redis.UniversalClient, key, group, consumer string) (*StreamConsumer, error) {
	err := rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("keyval: xgroup create %s/%s: %w", key, group, err)
	}
	return &StreamConsumer{
		rdb:      rdb,
		key:      key,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
	}, nil
}

func (c *StreamConsumer) Consume(ctx context.Context, gate func(ctx context.Context) error, h Handler) error {
	logger := log.WithFields(log.Fields{"stream": c.key, "consumer": c.consumer})
	logger.Info("starting stream consumer")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.key, ">"},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.WithField("error", err).Error("stream read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				tid, _ := msg.Values["tid"].(string)
				if err := h(ctx, tid); err != nil {
					// Leave the entry pending for redelivery.
					logger.WithFields(log.Fields{"tid": tid, "error": err}).Error("handler failed")
					continue
				}
				c.rdb.XAck(ctx, c.key, c.group, msg.ID)
				c.rdb.XDel(ctx, c.key, msg.ID)
			}
		}
	}
}
