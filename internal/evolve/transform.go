package evolve

import (
	"fmt"
	"math"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

// box maps unbounded search coordinates onto a product of intervals.
type box struct {
	lo, hi []float64
	free   []int
}

func newBox(bounds []calibration.Interval) (*box, error) {
	b := &box{lo: make([]float64, len(bounds)), hi: make([]float64, len(bounds))}
	for i, iv := range bounds {
		if math.IsNaN(iv.Lower) || math.IsNaN(iv.Upper) || math.IsInf(iv.Lower, 0) || math.IsInf(iv.Upper, 0) {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("bound %d %s is not finite", i, iv))
		}
		if iv.Upper < iv.Lower {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("bound %d %s is inverted", i, iv))
		}
		b.lo[i], b.hi[i] = iv.Lower, iv.Upper
		if iv.Upper > iv.Lower {
			b.free = append(b.free, i)
		}
	}
	return b, nil
}

// dim is the number of coordinates actually searched.
func (b *box) dim() int { return len(b.free) }

// point maps search coordinates u onto a vector inside the box.
func (b *box) point(u []float64) []float64 {
	x := make([]float64, len(b.lo))
	copy(x, b.lo)
	for k, i := range b.free {
		v := b.lo[i] + (b.hi[i]-b.lo[i])*reflect(u[k])
		x[i] = math.Min(math.Max(v, b.lo[i]), b.hi[i])
	}
	return x
}

// reflect folds u onto [0, 1] with period 2.
func reflect(u float64) float64 {
	t := math.Mod(u, 2)
	if t < 0 {
		t += 2
	}
	if t > 1 {
		t = 2 - t
	}
	return t
}
