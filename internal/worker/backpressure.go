package worker

import (
	"math"

	"github.com/krishnamouli8/vantage/pkg/config"
)

// targetBatchSize computes the adaptive batch size from consumer lag using
// a power-law growth curve in log10(lag): each order of magnitude of lag
// doubles the multiplier applied to the base (batch_min), clamped to
// [batch_min, batch_max]. This is monotonically non-decreasing in lag at
// equilibrium, per the spec's only required property; the exact curve
// shape is implementation freedom.
func targetBatchSize(cfg config.WorkerConfig, lag int64) int {
	base := cfg.BatchMinSize
	if base <= 0 {
		base = 100
	}
	min := cfg.BatchMinSize
	if min <= 0 {
		min = 100
	}
	max := cfg.BatchMaxSize
	if max <= 0 {
		max = 5000
	}

	multiplier := 1.0
	if lag > 10 {
		orders := math.Log10(float64(lag) / 10)
		multiplier = math.Pow(2, orders)
	}

	target := int(float64(base) * multiplier)
	if target < min {
		target = min
	}
	if target > max {
		target = max
	}
	return target
}
