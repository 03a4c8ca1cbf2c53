// Package store persists trained forests to disk and synthesizes the default
// model used when no trained model exists yet.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nocheat/detect-api/internal/features"
	"github.com/nocheat/detect-api/internal/forest"
	"github.com/nocheat/detect-api/internal/models"
)

// ErrModelNotFound distinguishes "no model available" from "model is
// invalid"; callers fall back to default-model synthesis on this error only.
var ErrModelNotFound = errors.New("store: model file not found")

// Save serializes the forest to path. The file is written to a temp sibling
// and renamed so a concurrent Load never observes a partially written model.
func Save(f *forest.Forest, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create model file: %w", err)
	}
	tmpName := tmp.Name()

	if err := forest.Encode(tmp, f); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: encode model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close model file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace model file: %w", err)
	}
	return nil
}

// Load reads a forest back from path. Returns ErrModelNotFound when the file
// does not exist; decode failures surface the forest package's Corrupt and
// Truncated errors.
func Load(path string) (*forest.Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("store: open model file: %w", err)
	}
	defer file.Close()

	f, err := forest.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	return f, nil
}

// SyntheticTrainingSet generates the deterministic built-in training data:
// 50 legitimate-like players (40-65% accuracy, 10-25% headshot ratio, steady
// shot cadence) and 50 cheat-like players (80-98% accuracy, 40-80% headshot
// ratio, tight low-variance cadence). The arithmetic is fixed so two runs
// always produce the same set.
func SyntheticTrainingSet() (samples [][]float64, labels []float64) {
	ex := features.NewFPSExtractor()

	for i := uint32(0); i < 50; i++ {
		shots := 100 + i
		accuracy := 0.40 + float64(i%25)*0.01
		hits := uint32(float64(shots) * accuracy)
		headshotRatio := 0.10 + float64(i%15)*0.01
		headshots := uint32(float64(hits) * headshotRatio)

		data := models.DefaultPlayerData{
			ShotsFired:       map[string]uint32{"rifle": shots, "pistol": shots / 2},
			Hits:             map[string]uint32{"rifle": hits, "pistol": hits / 2},
			Headshots:        headshots,
			ShotTimestampsMS: syntheticTimestamps(int(i), 20, 180, 60),
		}
		samples = append(samples, ex.Extract(data))
		labels = append(labels, 0.0)
	}

	for i := uint32(0); i < 50; i++ {
		shots := 100 + i
		accuracy := 0.80 + float64(i%18)*0.01
		hits := uint32(float64(shots) * accuracy)
		headshotRatio := 0.40 + float64(i%40)*0.01
		headshots := uint32(float64(hits) * headshotRatio)

		data := models.DefaultPlayerData{
			ShotsFired:       map[string]uint32{"rifle": shots, "pistol": shots / 2},
			Hits:             map[string]uint32{"rifle": hits, "pistol": hits / 2},
			Headshots:        headshots,
			ShotTimestampsMS: syntheticTimestamps(int(i), 20, 85, 4),
		}
		samples = append(samples, ex.Extract(data))
		labels = append(labels, 1.0)
	}

	return samples, labels
}

// syntheticTimestamps produces count shot timestamps with the given base
// interval and a deterministic jitter spread.
func syntheticTimestamps(seed, count, baseMS, jitterMS int) []uint64 {
	out := make([]uint64, count)
	var t uint64
	for j := 0; j < count; j++ {
		interval := baseMS
		if jitterMS > 0 {
			interval += (seed*7 + j*13) % jitterMS
		}
		t += uint64(interval)
		out[j] = t
	}
	return out
}

// GenerateDefaultModel trains a forest on the synthetic set and saves it to
// path. Used at first startup and by the trainer CLI when no labeled data is
// available yet.
func GenerateDefaultModel(ctx context.Context, path string, opts forest.TrainOptions) (*forest.Forest, error) {
	samples, labels := SyntheticTrainingSet()
	f, err := forest.Train(ctx, samples, labels, opts)
	if err != nil {
		return nil, fmt.Errorf("store: train default model: %w", err)
	}
	if err := Save(f, path); err != nil {
		return nil, err
	}
	return f, nil
}
