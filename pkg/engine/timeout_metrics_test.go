package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/telemetry"
)

func timeoutCounterTotal(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "verity.validation.timeouts_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestTimeoutsIncrementTimeoutCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	telemetry.ResetMetricsForTest()
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		telemetry.ResetMetricsForTest()
	})

	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyStrict,
	}))

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := eng.Execute(expired, "p", map[string]any{"k": "v"}, nil)
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, int64(1), timeoutCounterTotal(t, reader), "pipeline timeouts must be counted")

	_, err = eng.Validate(expired, "anything", map[string]any{"k": "v"}, ValidateOptions{})
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, int64(2), timeoutCounterTotal(t, reader), "contract timeouts must be counted")
}
