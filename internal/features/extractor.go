// Package features turns raw player statistics into the fixed-order numeric
// vectors the classifier consumes. Feature order is a contract: the trainer
// and the inference path must use the same extractor or predictions are
// meaningless.
package features

// Extractor derives a fixed-length feature vector from one player's raw
// statistics. Implementations must be pure and deterministic and must never
// fail: missing optional inputs map to a neutral 0.0 so vector length and
// feature semantics stay stable across players with no activity.
type Extractor[T any] interface {
	Extract(data T) []float64
	FeatureCount() int
	Names() []string
}

// Default feature vector layout.
const (
	FeatAccuracyRate = iota
	FeatHeadshotRatio
	FeatIntervalMeanMS
	FeatIntervalStddevMS

	defaultFeatureCount
)

var defaultNames = []string{
	"accuracy_rate",
	"headshot_ratio",
	"interval_mean_ms",
	"interval_stddev_ms",
}
