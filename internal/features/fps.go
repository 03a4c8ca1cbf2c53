package features

import (
	"math"

	"github.com/nocheat/detect-api/internal/models"
)

// FPSExtractor is the built-in extractor for DefaultPlayerData. It produces
// four features: aggregate accuracy, aggregate headshot ratio, and the mean
// and standard deviation of inter-shot intervals when timestamps are present.
type FPSExtractor struct{}

func NewFPSExtractor() FPSExtractor { return FPSExtractor{} }

func (FPSExtractor) FeatureCount() int { return defaultFeatureCount }

func (FPSExtractor) Names() []string { return defaultNames }

// Extract never fails. Denominators are floored at 1 rather than
// short-circuited so the vector length and feature semantics are identical
// for players with no activity. Timing features are 0.0 unless at least two
// timestamps are present.
func (FPSExtractor) Extract(data models.DefaultPlayerData) []float64 {
	vec := make([]float64, defaultFeatureCount)

	shots := data.TotalShots()
	hits := data.TotalHits()

	vec[FeatAccuracyRate] = float64(hits) / math.Max(float64(shots), 1)
	vec[FeatHeadshotRatio] = float64(data.Headshots) / math.Max(float64(hits), 1)

	mean, stddev := IntervalStats(data.ShotTimestampsMS)
	vec[FeatIntervalMeanMS] = mean
	vec[FeatIntervalStddevMS] = stddev

	return vec
}

// IntervalStats computes the mean and standard deviation of inter-shot
// intervals in milliseconds using Welford's online algorithm. Fewer than two
// timestamps yield the neutral sentinel (0, 0).
func IntervalStats(timestamps []uint64) (mean, stddev float64) {
	if len(timestamps) < 2 {
		return 0, 0
	}

	var count int
	var m2 float64
	prev := timestamps[0]
	for _, ts := range timestamps[1:] {
		interval := float64(ts) - float64(prev)
		prev = ts

		count++
		delta := interval - mean
		mean += delta / float64(count)
		m2 += delta * (interval - mean)
	}

	if count < 2 {
		return mean, 0
	}
	return mean, math.Sqrt(m2 / float64(count-1))
}

// Intervals expands shot timestamps into successive deltas. Used by the rule
// layer for single-interval anomaly checks.
func Intervals(timestamps []uint64) []float64 {
	if len(timestamps) < 2 {
		return nil
	}
	out := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		out = append(out, float64(timestamps[i])-float64(timestamps[i-1]))
	}
	return out
}
