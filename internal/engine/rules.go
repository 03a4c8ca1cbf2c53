package engine

import (
	"math"

	"github.com/nocheat/detect-api/internal/features"
	"github.com/nocheat/detect-api/internal/models"
)

// Behavioral flag names. These are part of the response contract.
const (
	FlagHighAccuracy      = "HighAccuracy"
	FlagHighHeadshotRatio = "HighHeadshotRatio"
	FlagAimSnap           = "AimSnap"
	FlagInvalidData       = "InvalidData"
)

// RuleConfig holds the default rule thresholds.
type RuleConfig struct {
	AccuracyThreshold      float64 // flag above this aggregate accuracy
	HeadshotRatioThreshold float64 // flag above this headshot ratio
	AimSnapIntervalMS      float64 // flag at or below this inter-shot interval
}

// DefaultRuleConfig mirrors the documented baseline thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		AccuracyThreshold:      0.80,
		HeadshotRatioThreshold: 0.70,
		AimSnapIntervalMS:      30,
	}
}

// DefaultRules builds the built-in rule set over DefaultPlayerData. Timing
// rules never fire without at least two timestamps, so players that supply
// no timing data cannot be flagged for it.
func DefaultRules(cfg RuleConfig) []Rule[models.DefaultPlayerData] {
	return []Rule[models.DefaultPlayerData]{
		{
			Name: FlagHighAccuracy,
			Match: func(d models.DefaultPlayerData) bool {
				return float64(d.TotalHits())/math.Max(float64(d.TotalShots()), 1) > cfg.AccuracyThreshold
			},
		},
		{
			Name: FlagHighHeadshotRatio,
			Match: func(d models.DefaultPlayerData) bool {
				return float64(d.Headshots)/math.Max(float64(d.TotalHits()), 1) > cfg.HeadshotRatioThreshold
			},
		},
		{
			Name: FlagAimSnap,
			Match: func(d models.DefaultPlayerData) bool {
				for _, interval := range features.Intervals(d.ShotTimestampsMS) {
					if interval <= cfg.AimSnapIntervalMS {
						return true
					}
				}
				return false
			},
		},
	}
}
