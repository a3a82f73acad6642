// Copyright 2026 The OpenTrusty Authors
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
	"fmt"

	"github.com/opentrusty/entitlements/internal/audit"
	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/config"
	"github.com/opentrusty/entitlements/internal/observability/metrics"
	"github.com/opentrusty/entitlements/internal/provisioning"
	"github.com/opentrusty/entitlements/internal/store/postgres"
	"github.com/opentrusty/entitlements/internal/store/redis"
	"github.com/opentrusty/entitlements/internal/token"
	"github.com/opentrusty/entitlements/internal/transition"
	"github.com/opentrusty/entitlements/internal/usage"
)

// app holds the process-wide connections and the services built on them.
// Connections are opened once here and released by close.
type app struct {
	db    *postgres.DB
	redis *redis.Client

	tokens      *token.Service
	engine      *transition.Engine
	provisioner *provisioning.Handler
	resetJob    *usage.ResetJob
}

func newApp(ctx context.Context, cfg *config.Config, instruments *metrics.Instruments) (*app, error) {
	db, err := postgres.New(ctx, postgresConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	tokens, err := token.NewService(
		redis.NewClaimsRepository(rdb, cfg.Redis.KeyPrefix),
		token.Config{
			Issuer:        cfg.Token.Issuer,
			SigningSecret: cfg.Token.SigningSecret,
			TTL:           cfg.Token.TTL,
		},
	)
	if err != nil {
		_ = rdb.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	auditLogger := audit.NewSlogLogger()
	claimStore := claims.NewAdapter(tokens)
	profiles := postgres.NewProfileRepository(db)

	return &app{
		db:          db,
		redis:       rdb,
		tokens:      tokens,
		engine:      transition.NewEngine(authz.NewGuard(), claimStore, profiles, auditLogger, instruments),
		provisioner: provisioning.NewHandler(claimStore, profiles, auditLogger, instruments),
		resetJob: usage.NewResetJob(profiles, auditLogger, instruments, usage.Config{
			BatchSize:   cfg.Reset.BatchSize,
			Concurrency: cfg.Reset.Concurrency,
		}),
	}, nil
}

func (a *app) close() {
	_ = a.redis.Close()
	a.db.Close()
}

func postgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}
