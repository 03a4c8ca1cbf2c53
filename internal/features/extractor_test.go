package features

import (
	"math"
	"testing"

	"github.com/nocheat/detect-api/internal/models"
)

func TestExtract_KnownRatios(t *testing.T) {
	ex := NewFPSExtractor()

	data := models.DefaultPlayerData{
		ShotsFired: map[string]uint32{"rifle": 100},
		Hits:       map[string]uint32{"rifle": 50},
		Headshots:  10,
	}

	vec := ex.Extract(data)
	if len(vec) != ex.FeatureCount() {
		t.Fatalf("Vector length = %d, want %d", len(vec), ex.FeatureCount())
	}
	if vec[FeatAccuracyRate] != 0.5 {
		t.Errorf("accuracy_rate = %f, want 0.5", vec[FeatAccuracyRate])
	}
	if vec[FeatHeadshotRatio] != 0.2 {
		t.Errorf("headshot_ratio = %f, want 0.2", vec[FeatHeadshotRatio])
	}
	if vec[FeatIntervalMeanMS] != 0 || vec[FeatIntervalStddevMS] != 0 {
		t.Errorf("Timing features should be 0 without timestamps, got %f/%f",
			vec[FeatIntervalMeanMS], vec[FeatIntervalStddevMS])
	}
}

func TestExtract_MultiWeaponAggregation(t *testing.T) {
	ex := NewFPSExtractor()

	data := models.DefaultPlayerData{
		ShotsFired: map[string]uint32{"rifle": 100, "pistol": 50},
		Hits:       map[string]uint32{"rifle": 90, "pistol": 45},
		Headshots:  50,
	}

	vec := ex.Extract(data)
	if vec[FeatAccuracyRate] != 0.9 {
		t.Errorf("accuracy_rate = %f, want 0.9", vec[FeatAccuracyRate])
	}
	want := 50.0 / 135.0
	if math.Abs(vec[FeatHeadshotRatio]-want) > 1e-9 {
		t.Errorf("headshot_ratio = %f, want %f", vec[FeatHeadshotRatio], want)
	}
}

func TestExtract_NoActivity(t *testing.T) {
	ex := NewFPSExtractor()

	// Empty stats must still produce a full-length, finite vector.
	vec := ex.Extract(models.DefaultPlayerData{})
	if len(vec) != ex.FeatureCount() {
		t.Fatalf("Vector length = %d, want %d", len(vec), ex.FeatureCount())
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("Feature %d = %f, want finite", i, v)
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	ex := NewFPSExtractor()

	data := models.DefaultPlayerData{
		ShotsFired:       map[string]uint32{"rifle": 73, "smg": 19},
		Hits:             map[string]uint32{"rifle": 31, "smg": 7},
		Headshots:        5,
		ShotTimestampsMS: []uint64{100, 290, 455, 700, 944},
	}

	a := ex.Extract(data)
	b := ex.Extract(data)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Feature %d differs between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestIntervalStats(t *testing.T) {
	tests := []struct {
		name       string
		timestamps []uint64
		wantMean   float64
		wantStddev float64
	}{
		{"no timestamps", nil, 0, 0},
		{"single timestamp", []uint64{100}, 0, 0},
		{"two timestamps", []uint64{100, 300}, 200, 0},
		{"steady cadence", []uint64{0, 100, 200, 300}, 100, 0},
		{"varied cadence", []uint64{0, 100, 300}, 150, math.Sqrt(5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, stddev := IntervalStats(tt.timestamps)
			if math.Abs(mean-tt.wantMean) > 1e-9 {
				t.Errorf("mean = %f, want %f", mean, tt.wantMean)
			}
			if math.Abs(stddev-tt.wantStddev) > 1e-9 {
				t.Errorf("stddev = %f, want %f", stddev, tt.wantStddev)
			}
		})
	}
}

func TestIntervals(t *testing.T) {
	got := Intervals([]uint64{10, 30, 35, 100})
	want := []float64{20, 5, 65}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Interval %d = %f, want %f", i, got[i], want[i])
		}
	}
	if Intervals([]uint64{42}) != nil {
		t.Error("Single timestamp should yield nil intervals")
	}
}
