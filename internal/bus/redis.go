// Copyright 2024-2025 FlowSpec
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

package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// backoffStep/backoffCap/maxReconnectAttempts implement spec's
// reconnection policy: 1s step, 10s cap, 10 attempt cap.
const (
	backoffStep          = 1 * time.Second
	backoffCap           = 10 * time.Second
	maxReconnectAttempts = 10
)

// RedisBus subscribes to Channels on a Redis pub/sub connection,
// reconnecting with exponential backoff on disconnect.
type RedisBus struct {
	client   *redis.Client
	logger   *logrus.Logger
	shutdown int32 // atomic bool; reconnection is suppressed once set
}

// RedisConfig configures the underlying Redis connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Logger   *logrus.Logger
}

// NewRedisBus constructs a RedisBus from cfg.
func NewRedisBus(cfg RedisConfig) *RedisBus {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBus{client: client, logger: logger}
}

// Subscribe implements Bus. It reconnects on failure with exponential
// backoff until ctx is canceled, Close is called, or the attempt cap
// is exhausted.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffStep
	bo.MaxInterval = backoffCap
	bo.MaxElapsedTime = 0

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if atomic.LoadInt32(&b.shutdown) == 1 {
			return nil
		}

		err := b.runOnce(ctx, handler)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if atomic.LoadInt32(&b.shutdown) == 1 {
			return nil
		}

		attempt++
		if attempt > maxReconnectAttempts {
			return fmt.Errorf("bus: exceeded %d reconnect attempts: %w", maxReconnectAttempts, err)
		}

		wait := bo.NextBackOff()
		b.logger.WithError(err).WithField("attempt", attempt).Warnf("bus disconnected, reconnecting in %v", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce subscribes and processes messages until the connection drops
// or ctx is canceled. It does not touch Subscribe's attempt counter or
// backoff state: received messages do not reset either, so the attempt
// cap counts every reconnect since Subscribe was called.
func (b *RedisBus) runOnce(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, Channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("bus: subscription channel closed")
			}
			dispatch(msg.Channel, []byte(msg.Payload), handler, b.logger)
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch parses raw and invokes handler, logging and dropping on any
// validation failure per spec's gate.
func dispatch(channel string, raw []byte, handler Handler, logger *logrus.Logger) {
	if !IsKnownChannel(channel) {
		logger.WithField("channel", channel).Warn("bus: dropping message on unknown channel")
		return
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		logger.WithError(err).WithField("channel", channel).Warn("bus: dropping malformed message")
		return
	}
	handler(channel, msg)
}

// Close marks the bus as shutting down (suppressing further
// reconnection attempts) and closes the underlying client.
func (b *RedisBus) Close() error {
	atomic.StoreInt32(&b.shutdown, 1)
	return b.client.Close()
}
