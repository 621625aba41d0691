package evolve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

func TestReflect(t *testing.T) {
	tests := []struct {
		u, want float64
	}{
		{0, 0},
		{0.25, 0.25},
		{1, 1},
		{1.25, 0.75},
		{2, 0},
		{-0.25, 0.25},
		{-1.5, 0.5},
		{3.5, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, reflect(tt.u), 1e-12, "reflect(%g)", tt.u)
	}
}

func TestBox_Point(t *testing.T) {
	b, err := newBox([]calibration.Interval{
		{Lower: 1, Upper: 1},
		{Lower: 0.8, Upper: 1.2},
		{Lower: 0.9, Upper: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.dim())

	x := b.point([]float64{0.5, 7.3})
	assert.Equal(t, 1.0, x[0])
	assert.InDelta(t, 1.0, x[1], 1e-12)
	assert.True(t, x[2] >= 0.9 && x[2] <= 1)

	for _, u := range []float64{-1e6, -3.7, 0, 0.999, 1e6} {
		x := b.point([]float64{u, u})
		assert.True(t, x[1] >= 0.8 && x[1] <= 1.2, "x=%v", x)
		assert.True(t, x[2] >= 0.9 && x[2] <= 1, "x=%v", x)
	}
}

func TestNewBox_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		bounds []calibration.Interval
	}{
		{"inverted", []calibration.Interval{{Lower: 1.2, Upper: 0.8}}},
		{"NaN", []calibration.Interval{{Lower: math.NaN(), Upper: 1}}},
		{"infinite", []calibration.Interval{{Lower: 0, Upper: math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newBox(tt.bounds)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
		})
	}
}
