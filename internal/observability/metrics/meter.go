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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled        bool
	ServiceVersion string
	// ExportInterval is the push period of the OTLP reader; zero keeps the SDK default.
	ExportInterval time.Duration

	// Reader overrides the periodic OTLP HTTP reader built from OTEL_* environment variables.
	Reader sdkmetric.Reader
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New creates a new meter instance. When enabled it installs the global
// meter provider; call Shutdown to flush it.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}, nil
	}

	reader := cfg.Reader
	if reader == nil {
		exporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		var opts []sdkmetric.PeriodicReaderOption
		if cfg.ExportInterval > 0 {
			opts = append(opts, sdkmetric.WithInterval(cfg.ExportInterval))
		}
		reader = sdkmetric.NewPeriodicReader(exporter, opts...)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Meter{meter: provider.Meter(serviceName), provider: provider}, nil
}

// Shutdown flushes pending measurements and stops the provider.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeInvalid = "invalid"
	OutcomeSkipped = "skipped"
)

// Instruments are the counters the background and caller-facing operations report to.
// Provisioning and the usage reset have no caller, so these are their only outcome channel.
type Instruments struct {
	transitions        metric.Int64Counter
	transitionDuration metric.Float64Histogram
	provisioning       metric.Int64Counter
	resetProfiles      metric.Int64Counter
	resetBatchesFailed metric.Int64Counter
}

// NewInstruments registers the service instruments on m.
func (m *Meter) NewInstruments() (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.transitions, err = m.CreateCounter("entitlements.transitions", "Role transitions by name and outcome"); err != nil {
		return nil, err
	}
	if in.transitionDuration, err = m.CreateHistogram("entitlements.transition.duration", "Role transition latency", "ms"); err != nil {
		return nil, err
	}
	if in.provisioning, err = m.CreateCounter("entitlements.provisioning", "Account provisioning outcomes"); err != nil {
		return nil, err
	}
	if in.resetProfiles, err = m.CreateCounter("entitlements.usage_reset.profiles", "Profiles whose usage counters were reset"); err != nil {
		return nil, err
	}
	if in.resetBatchesFailed, err = m.CreateCounter("entitlements.usage_reset.batches_failed", "Usage reset batches that failed to commit"); err != nil {
		return nil, err
	}
	return &in, nil
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	in, _ := (&Meter{meter: noop.NewMeterProvider().Meter("noop")}).NewInstruments()
	return in
}

func (in *Instruments) RecordTransition(ctx context.Context, name, outcome string, ms float64) {
	attrs := metric.WithAttributes(
		attribute.String("transition", name),
		attribute.String("outcome", outcome),
	)
	in.transitions.Add(ctx, 1, attrs)
	in.transitionDuration.Record(ctx, ms, attrs)
}

func (in *Instruments) RecordProvisioning(ctx context.Context, outcome string) {
	in.provisioning.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *Instruments) RecordResetBatch(ctx context.Context, profiles int, err error) {
	if err != nil {
		in.resetBatchesFailed.Add(ctx, 1)
		return
	}
	in.resetProfiles.Add(ctx, int64(profiles))
}
