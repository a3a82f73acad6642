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

// Package usage resets per-period usage counters across the whole profile
// population on a calendar schedule.
package usage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opentrusty/entitlements/internal/audit"
	"github.com/opentrusty/entitlements/internal/id"
	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/opentrusty/entitlements/internal/observability/metrics"
	"github.com/opentrusty/entitlements/internal/profile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/opentrusty/entitlements/internal/usage")

// Config controls batching
type Config struct {
	BatchSize   int
	Concurrency int
}

// Report summarizes one run. Nothing but logs and tests read it.
type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Profiles      int
	Batches       int
	FailedBatches int
	Reset         int
	Err           error // set when the population could not be read
}

// ResetJob zeroes usage counters in independent atomic batches.
type ResetJob struct {
	profiles    profile.Repository
	audit       audit.Logger
	metrics     *metrics.Instruments
	batchSize   int
	concurrency int
	now         func() time.Time
}

// NewResetJob creates a reset job. Out-of-range settings fall back to the
// store batch limit and sequential execution.
func NewResetJob(profiles profile.Repository, auditLogger audit.Logger, instruments *metrics.Instruments, cfg Config) *ResetJob {
	if cfg.BatchSize <= 0 || cfg.BatchSize > profile.MaxBatchSize {
		cfg.BatchSize = profile.MaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if instruments == nil {
		instruments = metrics.NoopInstruments()
	}
	return &ResetJob{
		profiles:    profiles,
		audit:       auditLogger,
		metrics:     instruments,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run resets every profile. A failed batch is logged and counted but never
// stops the others; the next scheduled run retries the whole population.
func (j *ResetJob) Run(ctx context.Context) Report {
	rep := Report{RunID: id.NewUUIDv7(), StartedAt: j.now()}

	ctx, span := tracer.Start(ctx, "usage.Reset", trace.WithAttributes(
		attribute.String("usage.run_id", rep.RunID),
	))
	defer span.End()

	log := slog.With(logger.Component("usage_reset"), logger.RunID(rep.RunID))

	uids, err := j.profiles.ListUIDs(ctx)
	if err != nil {
		log.ErrorContext(ctx, "failed to list profiles for usage reset", logger.Operation("list_profiles"), logger.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_profiles")
		rep.Err = err
		return j.finish(ctx, log, rep)
	}

	batches := Partition(uids, j.batchSize)
	rep.Profiles = len(uids)
	rep.Batches = len(batches)

	var failed, reset atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			if err := j.applyBatch(ctx, i, batch); err != nil {
				failed.Add(1)
				log.ErrorContext(ctx, "usage reset batch failed",
					logger.BatchIndex(i),
					logger.BatchSize(len(batch)),
					logger.Error(err),
				)
				return nil
			}
			reset.Add(int64(len(batch)))
			return nil
		})
	}
	_ = g.Wait()

	rep.FailedBatches = int(failed.Load())
	rep.Reset = int(reset.Load())
	if rep.FailedBatches > 0 {
		span.SetStatus(codes.Error, "partial failure")
	}
	return j.finish(ctx, log, rep)
}

func (j *ResetJob) applyBatch(ctx context.Context, index int, uids []string) error {
	ctx, span := tracer.Start(ctx, "usage.ResetBatch", trace.WithAttributes(
		attribute.Int("usage.batch_index", index),
		attribute.Int("usage.batch_size", len(uids)),
	))
	defer span.End()

	mutations := make([]profile.Mutation, len(uids))
	for k, uid := range uids {
		mutations[k] = profile.Mutation{UID: uid, Updates: profile.ResetUsageUpdates()}
	}

	err := j.profiles.ApplyBatch(ctx, mutations)
	j.metrics.RecordResetBatch(ctx, len(uids), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply_batch")
	}
	return err
}

func (j *ResetJob) finish(ctx context.Context, log *slog.Logger, rep Report) Report {
	rep.FinishedAt = j.now()

	attrs := []any{
		slog.Int("profiles", rep.Profiles),
		slog.Int("batches", rep.Batches),
		slog.Int("failed_batches", rep.FailedBatches),
		logger.Duration(rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()),
	}
	switch {
	case rep.Err != nil:
	case rep.FailedBatches > 0:
		log.WarnContext(ctx, "usage reset completed with failed batches", attrs...)
	default:
		log.InfoContext(ctx, "usage reset completed for all users", attrs...)
	}

	meta := map[string]any{
		audit.AttrRunID:    rep.RunID,
		audit.AttrProfiles: rep.Profiles,
		audit.AttrBatches:  rep.Batches,
		audit.AttrFailed:   rep.FailedBatches,
	}
	if rep.Err != nil {
		meta[audit.AttrReason] = "list_profiles"
	}
	j.audit.Log(ctx, audit.Event{
		ID:       id.NewUUIDv7(),
		Type:     audit.TypeUsageResetFinished,
		ActorID:  audit.ActorSystemScheduler,
		Resource: "usage_reset",
		Metadata: meta,
	})
	return rep
}

// Partition splits uids into consecutive chunks of at most size.
func Partition(uids []string, size int) [][]string {
	if size <= 0 || len(uids) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(uids)+size-1)/size)
	for start := 0; start < len(uids); start += size {
		end := min(start+size, len(uids))
		out = append(out, uids[start:end:end])
	}
	return out
}
