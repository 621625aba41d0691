package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ratecal/internal/errors"
)

func TestMemoryRunStore(t *testing.T) {
	store := NewMemoryRunStore(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(&Run{ID: fmt.Sprintf("r%d", i), Status: RunStatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	assert.Error(t, store.Create(&Run{ID: "r0"}))

	got, err := store.Get("r1")
	require.NoError(t, err)
	got.Status = RunStatusFailed
	again, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, again.Status, "snapshots must not alias the store")

	updated, err := store.Update("r1", func(r *Run) { r.Status = RunStatusCompleted })
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, updated.Status)

	list := store.List(RunFilter{})
	require.Len(t, list, 3)
	assert.Equal(t, []string{"r2", "r1", "r0"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Len(t, store.List(RunFilter{Status: RunStatusQueued}), 2)
	assert.Len(t, store.List(RunFilter{Limit: 1}), 1)

	assert.Equal(t, 2, store.Active())
	stats := store.GetStats()
	assert.Equal(t, 3, stats["total_runs"])
	assert.Equal(t, 1, stats["completed"])

	require.NoError(t, store.Delete("r0"))
	_, err = store.Get("r0")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
	assert.True(t, apperrors.IsType(store.Delete("r0"), apperrors.ErrTypeNotFound))
	_, err = store.Update("r0", func(*Run) {})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestMemoryRunStoreEviction(t *testing.T) {
	store := NewMemoryRunStore(2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(&Run{ID: "old", Status: RunStatusCompleted, CreatedAt: base}))
	require.NoError(t, store.Create(&Run{ID: "busy", Status: RunStatusRunning, CreatedAt: base.Add(-time.Hour)}))
	require.NoError(t, store.Create(&Run{ID: "new", Status: RunStatusQueued, CreatedAt: base.Add(time.Hour)}))

	_, err := store.Get("old")
	assert.Error(t, err, "oldest finished run is evicted first")
	_, err = store.Get("busy")
	assert.NoError(t, err, "unfinished runs are never evicted")

	require.NoError(t, store.Create(&Run{ID: "newer", Status: RunStatusQueued, CreatedAt: base.Add(2 * time.Hour)}))
	assert.Len(t, store.List(RunFilter{}), 3)
}

func TestRunStatusFinished(t *testing.T) {
	tests := map[RunStatus]bool{
		RunStatusQueued:    false,
		RunStatusRunning:   false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
		RunStatusCancelled: true,
	}
	for status, want := range tests {
		assert.Equal(t, want, status.Finished(), status)
	}
}
