// Package statistics builds the latency baseline that live measurements are
// compared against.
//
// The baseline is an outlier trimmed mean and standard deviation. Latency is
// right skewed, so a single cut at a high percentile is enough to keep
// transient spikes out of the reference population.
package statistics

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
)

// DefaultPercentile approximates "more than 3 standard deviations above the mean"
const DefaultPercentile = 97.73

var (
	// ErrInsufficientHistory is returned when there is nothing to compare against
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrIndeterminateBaseline accompanies a result whose trimmed population has
	// no variance. The Stats value is still usable, see Compute.
	ErrIndeterminateBaseline = errors.New("indeterminate baseline: zero variance")
)

// Stats is the comparison of one sample against its baseline
type Stats struct {
	ZScore float64 `json:"zscore"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`

	Cutoff  float64 `json:"cutoff"`
	Samples int     `json:"samples"`
	Trimmed int     `json:"trimmed"`

	Current       float64 `json:"current"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
}

// MarshalJSON writes a non-finite z-score as the string "+Inf" or "-Inf"
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	out := struct {
		plain
		ZScore interface{} `json:"zscore"`
	}{plain: plain(s), ZScore: s.ZScore}
	if math.IsInf(s.ZScore, 0) || math.IsNaN(s.ZScore) {
		out.ZScore = strconv.FormatFloat(s.ZScore, 'f', -1, 64)
	}
	return json.Marshal(out)
}

// Compute trims history at the given percentile and scores current against
// what is left.
//
// When the trimmed population has zero variance the z-score is 0 if current
// equals the mean, +Inf above it and -Inf below it, and ErrIndeterminateBaseline
// is returned alongside the populated Stats.
func Compute(history []float64, current, percentile float64) (s Stats, err error) {
	if len(history) == 0 {
		err = ErrInsufficientHistory
		return
	}

	s.Current = current
	s.Samples = len(history)
	s.Cutoff = Percentile(history, percentile)

	trimmed := Trim(history, s.Cutoff)
	if len(trimmed) == 0 {
		// Every sample sits on the cutoff, there is no tail to remove
		trimmed = history
	}
	s.Trimmed = len(trimmed)
	s.Mean, s.Std = MeanStd(trimmed)

	if s.Std == 0 || math.IsNaN(s.Std) {
		s.Std = 0
		s.Indeterminate = true
		switch {
		case current > s.Mean:
			s.ZScore = math.Inf(1)
		case current < s.Mean:
			s.ZScore = math.Inf(-1)
		}
		err = ErrIndeterminateBaseline
		return
	}

	s.ZScore = (current - s.Mean) / s.Std
	return
}

// IsAnomalous applies the z-score threshold. +Inf from a flat baseline counts
// as anomalous.
func IsAnomalous(s Stats, threshold float64) bool {
	return s.ZScore >= threshold
}

// Percentile returns the p-th percentile (0-100) using linear interpolation
// between the closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Trim drops every sample at or above cutoff, keeping the original order.
func Trim(values []float64, cutoff float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v < cutoff {
			out = append(out, v)
		}
	}
	return out
}

// MeanStd returns the mean and the sample standard deviation (n-1).
func MeanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	for _, v := range values {
		mean += v
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / (n - 1))
	return
}
