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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jakekausler/campaign-manager-rules/internal/bus"
	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/config"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/engine"
	"github.com/jakekausler/campaign-manager-rules/internal/rpc"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC server, bus listener, and evaluation engine.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe wires the store, cache, coordinator, engine, bus dispatcher
// and RPC server together and blocks until SIGINT/SIGTERM, then drains
// in-flight requests before returning.
func runServe(ctx context.Context) error {
	logger := logrus.StandardLogger()
	cfg := config.Load(configPath, logger)

	st, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	c := cache.New(cache.Config{
		DefaultTTL:  time.Duration(cfg.CacheTTLSeconds) * time.Second,
		CheckPeriod: time.Duration(cfg.CacheCheckPeriodSeconds) * time.Second,
		MaxKeys:     cfg.CacheMaxKeys,
		Logger:      logger,
	})
	defer c.Close()

	coord := coordinator.New(st, logger)
	e := engine.New(engine.Config{Store: st, Cache: c, Coordinator: coord, Logger: logger})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rb := bus.NewRedisBus(bus.RedisConfig{
		Host:     cfg.BusHost,
		Port:     cfg.BusPort,
		Password: cfg.BusPassword,
		DB:       cfg.BusDB,
		Logger:   logger,
	})
	defer rb.Close()
	dispatcher := bus.NewDispatcher(c, coord, logger)
	go func() {
		if err := dispatcher.Run(runCtx, rb); err != nil && runCtx.Err() == nil {
			logger.WithError(err).Error("bus listener stopped")
		}
	}()

	srv := rpc.NewServer(e, logger)
	httpSrv := &http.Server{
		Addr:    httpAddr(cfg.HTTPPort),
		Handler: srv.Router(),
	}

	go func() {
		logger.WithField("addr", httpSrv.Addr).Info("rulesworker listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server stopped")
		}
	}()

	<-runCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func httpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// openStore returns a Postgres-backed Store when DATABASE_URL is set,
// otherwise an empty MemoryStore: the config surface (spec §6.4) names
// cache/bus/http settings only, so the upstream database connection is
// plumbed through the environment rather than the YAML file.
func openStore(ctx context.Context, logger *logrus.Logger) (store.Store, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Warn("DATABASE_URL not set, running against an empty in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}
