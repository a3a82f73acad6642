package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

// TestPurpose: Validates that reset batch outcomes are split between the profile and failure counters.
// Scope: Unit Test
// Expected: Successful batches add their size; failed batches add one failure.
// Test Case ID: MET-01
func TestMetrics_Instruments_ResetBatch(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Meter{meter: provider.Meter("test")}

	in, err := m.NewInstruments()
	require.NoError(t, err)

	ctx := context.Background()
	in.RecordResetBatch(ctx, 500, nil)
	in.RecordResetBatch(ctx, 3, nil)
	in.RecordResetBatch(ctx, 500, errors.New("commit failed"))
	in.RecordTransition(ctx, "promote-to-admin", OutcomeSuccess, 12)
	in.RecordProvisioning(ctx, OutcomeSkipped)

	sums := collect(t, reader)
	assert.Equal(t, int64(503), sums["entitlements.usage_reset.profiles"])
	assert.Equal(t, int64(1), sums["entitlements.usage_reset.batches_failed"])
	assert.Equal(t, int64(1), sums["entitlements.transitions"])
	assert.Equal(t, int64(1), sums["entitlements.provisioning"])
}

// TestPurpose: Validates that an enabled meter installs a provider that actually collects.
// Scope: Unit Test
// Expected: Measurements from the returned meter and from the global provider both reach the reader.
// Test Case ID: MET-02
func TestMetrics_New_InstallsProvider(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	m, err := New(ctx, Config{Enabled: true, ServiceVersion: "test", Reader: reader}, "entitlements-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	in, err := m.NewInstruments()
	require.NoError(t, err)
	in.RecordProvisioning(ctx, OutcomeSuccess)
	in.RecordResetBatch(ctx, 42, nil)

	global, err := otel.Meter("global-check").Int64Counter("entitlements.global_check")
	require.NoError(t, err)
	global.Add(ctx, 1)

	sums := collect(t, reader)
	assert.Equal(t, int64(1), sums["entitlements.provisioning"])
	assert.Equal(t, int64(42), sums["entitlements.usage_reset.profiles"])
	assert.Equal(t, int64(1), sums["entitlements.global_check"])
}

func TestMetrics_New_Disabled(t *testing.T) {
	m, err := New(context.Background(), Config{}, "entitlements-test")
	require.NoError(t, err)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetrics_NoopInstruments(t *testing.T) {
	in := NoopInstruments()
	require.NotNil(t, in)
	assert.NotPanics(t, func() {
		in.RecordTransition(context.Background(), "x", OutcomeFailure, 1)
	})
}
