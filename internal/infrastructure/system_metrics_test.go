package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestSystemMetricsCollector(t *testing.T) {
	_, err := NewSystemMetricsCollector(noop.NewMeterProvider().Meter("test"), 0)
	require.Error(t, err)

	c, err := NewSystemMetricsCollector(noop.NewMeterProvider().Meter("test"), 10*time.Millisecond)
	require.NoError(t, err)

	stats := c.GetCurrentStats(context.Background())
	require.NotNil(t, stats)
	assert.Positive(t, stats.GoRoutines)
	assert.Positive(t, stats.CPUCount)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
}
