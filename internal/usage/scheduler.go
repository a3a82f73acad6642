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

package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/robfig/cron/v3"
)

// Scheduler fires the reset job on a cron schedule in a fixed timezone.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	spec     string
}

// NewScheduler parses spec, a standard 5-field cron expression, in timezone.
// Each run gets its own context bounded by timeout. A run that is still going
// when the next tick fires causes that tick to be skipped.
func NewScheduler(job *ResetJob, spec, timezone string, timeout time.Duration) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	log := cronLogger{l: slog.With(logger.Component("scheduler"))}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		job.Run(ctx)
	}))

	return &Scheduler{cron: c, schedule: schedule, loc: loc, spec: spec}, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("usage reset scheduled",
		logger.String("schedule", s.spec),
		logger.String("timezone", s.loc.String()),
		slog.Time("next_run", s.Next(time.Now())),
	)
}

// Stop prevents further ticks. The returned context is done once a running
// job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the first activation after from, in the scheduler's timezone.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.loc))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, logger.Error(err))...)
}
