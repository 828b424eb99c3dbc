// Package stats is the statistics kernel shared by probe analysis and
// cross-probe consensus. Every function is pure and deterministic, and
// every boundary case returns a documented zero value instead of an
// error: the callers treat "not enough samples" as data, not failure.
package stats

import (
	"math"

	"codeberg.org/iklabib/vmsense/model"
)

// EntropyBins is the histogram width used for Shannon entropy unless a
// caller asks for something else.
const EntropyBins = 20

// Mean returns the arithmetic mean, 0.0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the sample variance (n-1 denominator), 0.0 when
// fewer than two samples.
func Variance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0.0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return sum / float64(n-1)
}

// StdDev returns the sample standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// CoefficientOfVariation returns std_dev / mean, and 0.0 when the mean
// is zero. A zero mean makes the ratio indeterminate; flagging it as 0
// rather than NaN keeps downstream comparisons total.
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0.0 {
		return 0.0
	}
	return StdDev(values) / mean
}

// Skewness returns the bias-corrected sample skewness: the biased third
// standardized moment multiplied by sqrt(n(n-1))/(n-2). Returns 0.0
// when n < 3 or the variance is not positive.
func Skewness(values []float64) float64 {
	n := len(values)
	if n < 3 {
		return 0.0
	}
	variance := Variance(values)
	if variance <= 0.0 {
		return 0.0
	}
	mean := Mean(values)
	stdDev := math.Sqrt(variance)
	sum := 0.0
	for _, v := range values {
		diff := (v - mean) / stdDev
		sum += diff * diff * diff
	}
	biased := sum / float64(n)
	fn := float64(n)
	return biased * math.Sqrt(fn*(fn-1)) / (fn - 2)
}

// Kurtosis returns the bias-corrected excess kurtosis:
// (n-1)/((n-2)(n-3)) * ((n+1)*g2 + 6), where g2 is the biased excess
// kurtosis from the fourth standardized moment. Returns 0.0 when n < 4
// or the variance is not positive.
func Kurtosis(values []float64) float64 {
	n := len(values)
	if n < 4 {
		return 0.0
	}
	variance := Variance(values)
	if variance <= 0.0 {
		return 0.0
	}
	mean := Mean(values)
	stdDev := math.Sqrt(variance)
	sum := 0.0
	for _, v := range values {
		diff := (v - mean) / stdDev
		sq := diff * diff
		sum += sq * sq
	}
	fn := float64(n)
	biased := sum/fn - 3.0
	return (fn - 1) / ((fn - 2) * (fn - 3)) * ((fn+1)*biased + 6)
}

// Summarize computes the full descriptor set over one sample sequence.
func Summarize(values []float64) model.StatSummary {
	return model.StatSummary{
		Mean:                   Mean(values),
		Variance:               Variance(values),
		CoefficientOfVariation: CoefficientOfVariation(values),
		Skewness:               Skewness(values),
		Kurtosis:               Kurtosis(values),
	}
}

// ShannonEntropy returns the histogram-based Shannon entropy of the
// values in bits. The histogram spans [min, max] with the top bin
// absorbing the maximum value. Returns 0.0 for empty or constant input.
func ShannonEntropy(values []float64, bins int) float64 {
	if len(values) == 0 || bins < 1 {
		return 0.0
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		return 0.0
	}

	hist := make([]int, bins)
	width := (max - min) / float64(bins)
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}

	entropy := 0.0
	total := float64(len(values))
	for _, count := range hist {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// PmiVariant selects which Physical Machine Index convention a probe
// generation uses. The early compiled probes emit the logarithmic form
// with a sentinel for non-positive products; the interpreter probes emit
// the raw ratio. Neither is authoritative, so both are carried and the
// orchestrator stays variant-aware.
type PmiVariant string

const (
	// PmiRaw is (kurtosis * skewness) / variance, 0.0 when the variance
	// is not positive.
	PmiRaw PmiVariant = "raw"

	// PmiLogSentinel is log10((kurtosis * skewness) / variance) when the
	// product and variance are both positive, and PmiSentinel otherwise.
	PmiLogSentinel PmiVariant = "log_sentinel"
)

// PmiSentinel is the value PmiLogSentinel reports when the
// kurtosis-skewness product is not positive. A very low index reads as
// a virtualization signal.
const PmiSentinel = -10.0

// PhysicalMachineIndex computes the PMI under the given variant.
func PhysicalMachineIndex(kurtosis, skewness, variance float64, variant PmiVariant) float64 {
	if variance <= 0.0 {
		if variant == PmiLogSentinel {
			return PmiSentinel
		}
		return 0.0
	}
	product := kurtosis * skewness
	switch variant {
	case PmiLogSentinel:
		if product <= 0.0 {
			return PmiSentinel
		}
		return math.Log10(product / variance)
	default:
		return product / variance
	}
}
