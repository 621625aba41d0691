package exporter

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimals factors are reported with.
const DefaultPrecision int32 = 6

// round returns f rounded to places as a decimal. Non-finite values are
// reported by formatDecimal instead.
func round(f float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(places)
}

// formatDecimal formats f with exactly places decimals.
func formatDecimal(f float64, places int32) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return round(f, places).StringFixed(places)
}

// roundedFloat is formatDecimal for numeric cells.
func roundedFloat(f float64, places int32) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	v, _ := round(f, places).Float64()
	return v
}

// formatInt formats an int64 value for CSV output
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
