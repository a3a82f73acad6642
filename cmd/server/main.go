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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/config"
	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/opentrusty/entitlements/internal/observability/metrics"
	"github.com/opentrusty/entitlements/internal/observability/tracing"
	"github.com/opentrusty/entitlements/internal/store/postgres"
	transportHTTP "github.com/opentrusty/entitlements/internal/transport/http"
	"github.com/opentrusty/entitlements/internal/usage"
)

const usageText = `usage: entitlements [command]

commands:
  serve              run the HTTP API and the usage reset schedule (default)
  migrate            apply the database schema
  reset-usage        run the usage reset once and exit
  issue-token <uid>  print a bearer token for uid
  bootstrap <uid>    grant admin to uid without an existing admin caller
`

// bootstrapActor is the caller identity used by the bootstrap command.
const bootstrapActor = "system:bootstrap"

func main() {
	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return
	case "serve", "migrate", "reset-usage", "issue-token", "bootstrap":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateCommand(cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx := context.Background()
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "reset-usage":
		err = runResetUsage(ctx, cfg)
	case "issue-token":
		err = withUID(args, func(uid string) error { return runIssueToken(ctx, cfg, uid) })
	case "bootstrap":
		err = withUID(args, func(uid string) error { return runBootstrap(ctx, cfg, uid) })
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func withUID(args []string, fn func(uid string) error) error {
	if len(args) != 1 {
		return errors.New("exactly one uid argument is required")
	}
	return fn(args[0])
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting entitlements service")

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", logger.Error(err))
		}
	}()

	meter, instruments, err := newInstruments(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meter.Shutdown(shutdownCtx); err != nil {
			slog.Error("meter shutdown error", logger.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, instruments)
	if err != nil {
		return err
	}
	defer a.close()
	slog.Info("connected to database and claims store")

	var scheduler *usage.Scheduler
	if cfg.Reset.Enabled {
		scheduler, err = usage.NewScheduler(a.resetJob, cfg.Reset.Schedule, cfg.Reset.Timezone, cfg.Reset.RunTimeout)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	handler := transportHTTP.NewHandler(a.engine, a.provisioner, a.tokens, transportHTTP.Config{
		EventSecret:  cfg.Events.SharedSecret,
		EventTimeout: cfg.Events.Timeout,
		TrustProxy:   cfg.Server.TrustProxy,
		HealthChecks: []transportHTTP.HealthCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return a.db.Pool().Ping(ctx) }},
			{Name: "redis", Check: a.redis.Ping},
		},
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	if err := handler.Drain(shutdownCtx); err != nil {
		slog.Error("pending events did not finish", logger.Error(err))
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			slog.Error("usage reset still running at shutdown")
		}
	}

	slog.Info("server stopped")
	return nil
}

func newInstruments(ctx context.Context, cfg *config.Config) (*metrics.Meter, *metrics.Instruments, error) {
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, cfg.Observability.ServiceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	instruments, err := meter.NewInstruments()
	if err != nil {
		_ = meter.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to register instruments: %w", err)
	}
	return meter, instruments, nil
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.New(ctx, postgresConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

func runResetUsage(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, metrics.NoopInstruments())
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Reset.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Reset.RunTimeout)
		defer cancel()
	}

	rep := a.resetJob.Run(ctx)
	if rep.Err != nil {
		return rep.Err
	}
	fmt.Printf("Reset %d of %d profiles in %d batches (%d failed).\n", rep.Reset, rep.Profiles, rep.Batches, rep.FailedBatches)
	if rep.FailedBatches > 0 {
		return fmt.Errorf("%d batches failed", rep.FailedBatches)
	}
	return nil
}

func runIssueToken(ctx context.Context, cfg *config.Config, uid string) error {
	a, err := newApp(ctx, cfg, metrics.NoopInstruments())
	if err != nil {
		return err
	}
	defer a.close()

	tok, err := a.tokens.Issue(ctx, uid)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// runBootstrap promotes the first administrator through the regular engine
// path, acting as a system caller that holds the admin capability.
func runBootstrap(ctx context.Context, cfg *config.Config, uid string) error {
	a, err := newApp(ctx, cfg, metrics.NoopInstruments())
	if err != nil {
		return err
	}
	defer a.close()

	caller := &authz.Caller{
		UID:    bootstrapActor,
		Claims: claims.Set{claims.CapAdmin: true, claims.FieldRole: claims.RoleAdmin},
	}
	res, err := a.engine.PromoteToAdmin(ctx, caller, uid)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	return nil
}
