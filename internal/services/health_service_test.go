package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/config"
)

type fixedClients int

func (c fixedClients) ClientCount() int { return int(c) }

func TestHealthService(t *testing.T) {
	paths, err := config.ResolvePaths(config.PathsConfig{ReportsDir: "reports", LogsDir: "logs"}, t.TempDir())
	require.NoError(t, err)

	hs := NewHealthService("1.2.3", paths, NewMemoryRunStore(5), fixedClients(2), nil, quietLogger())
	ctx := context.Background()

	assert.Equal(t, "ok", hs.HealthCheck(ctx).Status)

	ready := hs.ReadinessCheck(ctx)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ready", ready.Services["reports"].Status)
	matches, err := filepath.Glob(filepath.Join(paths.ReportsDir, ".ready-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	live := hs.LivenessCheck(ctx)
	assert.Equal(t, "alive", live.Status)
	assert.Equal(t, 2, live.Runtime["websocket_clients"])

	assert.Equal(t, "1.2.3", hs.Version()["version"])
}

func TestHealthServiceNotReady(t *testing.T) {
	hs := NewHealthService("dev", nil, nil, nil, nil, quietLogger())
	ready := hs.ReadinessCheck(context.Background())
	assert.Equal(t, "not_ready", ready.Status)
	assert.Equal(t, "not_ready", ready.Services["runs"].Status)
	assert.Equal(t, "not_ready", ready.Services["reports"].Status)
}
