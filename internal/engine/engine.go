// Package engine orchestrates feature extraction, forest inference and the
// rule layer into per-player verdicts. One loaded model serves any number of
// concurrent Analyze calls; model replacement swaps an immutable forest into
// an atomic slot so in-flight readers never observe a partial model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nocheat/detect-api/internal/features"
	"github.com/nocheat/detect-api/internal/forest"
	"github.com/nocheat/detect-api/internal/models"
	"github.com/nocheat/detect-api/internal/store"
)

// ErrNoModel is returned by Analyze before a model has been initialized.
var ErrNoModel = errors.New("engine: no model loaded")

// Prometheus metrics
var (
	batchesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_analysis_batches_total",
		Help: "Total number of analysis batches processed",
	})

	playersAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_players_analyzed_total",
		Help: "Total number of players scored",
	})

	invalidEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_invalid_entries_total",
		Help: "Total number of malformed batch entries scored with neutral features",
	})

	suspicionScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nocheat_suspicion_score",
		Help:    "Distribution of suspicion scores",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	flagsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nocheat_flags_raised_total",
		Help: "Total number of behavioral flags raised, by flag",
	}, []string{"flag"})

	modelReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_model_reloads_total",
		Help: "Total number of successful model reloads",
	})
)

// Rule is one named threshold check against a player's raw statistics.
// Rules contribute flags, never score adjustments.
type Rule[T any] struct {
	Name  string
	Match func(data T) bool
}

// ModelInfo describes the currently loaded model.
type ModelInfo struct {
	Path         string `json:"path"`
	TreeCount    int    `json:"tree_count"`
	FeatureCount int    `json:"feature_count"`
}

// Engine scores batches of player statistics. T is the raw stat payload;
// the extractor fixes the feature vector contract between training and
// inference.
type Engine[T any] struct {
	extractor features.Extractor[T]
	rules     []Rule[T]
	logger    *zap.SugaredLogger

	model     atomic.Pointer[forest.Forest]
	modelPath atomic.Pointer[string]
}

// New builds an engine with no model loaded; call Init before Analyze.
func New[T any](extractor features.Extractor[T], rules []Rule[T], logger *zap.Logger) *Engine[T] {
	return &Engine[T]{
		extractor: extractor,
		rules:     rules,
		logger:    logger.Sugar(),
	}
}

// Init loads the model at path, synthesizing and saving a default model when
// none exists yet. Any other load failure (corrupt, truncated, unreadable)
// is surfaced, not papered over.
func (e *Engine[T]) Init(ctx context.Context, path string, trainOpts forest.TrainOptions) error {
	f, err := store.Load(path)
	if errors.Is(err, store.ErrModelNotFound) {
		e.logger.Infow("No model on disk, synthesizing default", "path", path)
		f, err = store.GenerateDefaultModel(ctx, path, trainOpts)
	}
	if err != nil {
		return err
	}
	if err := e.setModel(f, path); err != nil {
		return err
	}
	e.logger.Infow("Model loaded",
		"path", path,
		"trees", f.TreeCount(),
		"features", f.FeatureCount(),
	)
	return nil
}

// ReloadModel atomically swaps in the model at path. The previous model keeps
// serving in-flight calls until they finish.
func (e *Engine[T]) ReloadModel(path string) error {
	f, err := store.Load(path)
	if err != nil {
		return err
	}
	if err := e.setModel(f, path); err != nil {
		return err
	}
	modelReloads.Inc()
	e.logger.Infow("Model reloaded", "path", path, "trees", f.TreeCount())
	return nil
}

// SetModel installs an already constructed forest (no file involved).
func (e *Engine[T]) SetModel(f *forest.Forest) error {
	return e.setModel(f, "")
}

func (e *Engine[T]) setModel(f *forest.Forest, path string) error {
	if f.FeatureCount() != e.extractor.FeatureCount() {
		return &forest.DimensionError{Want: e.extractor.FeatureCount(), Got: f.FeatureCount()}
	}
	e.model.Store(f)
	e.modelPath.Store(&path)
	return nil
}

// Ready reports whether a model is loaded.
func (e *Engine[T]) Ready() bool { return e.model.Load() != nil }

// ModelInfo returns metadata for the active model, or false when none is
// loaded.
func (e *Engine[T]) ModelInfo() (ModelInfo, bool) {
	f := e.model.Load()
	if f == nil {
		return ModelInfo{}, false
	}
	info := ModelInfo{TreeCount: f.TreeCount(), FeatureCount: f.FeatureCount()}
	if p := e.modelPath.Load(); p != nil {
		info.Path = *p
	}
	return info, true
}

// Analyze scores a decoded batch. Output preserves input order and always
// has exactly one result per entry: a malformed entry is scored with neutral
// features and tagged InvalidData rather than dropped. The only error is a
// missing model.
func (e *Engine[T]) Analyze(ctx context.Context, entries []models.BatchEntry[T]) (models.AnalysisResponse[models.DefaultAnalysisResult], error) {
	var resp models.AnalysisResponse[models.DefaultAnalysisResult]

	f := e.model.Load()
	if f == nil {
		return resp, ErrNoModel
	}

	resp.Results = make([]models.PlayerResult[models.DefaultAnalysisResult], 0, len(entries))
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		resp.Results = append(resp.Results, e.analyzeOne(f, &entries[i]))
	}

	batchesAnalyzed.Inc()
	playersAnalyzed.Add(float64(len(entries)))
	return resp, nil
}

// AnalyzeStats is Analyze for callers that already hold well-formed stats.
func (e *Engine[T]) AnalyzeStats(ctx context.Context, stats []models.PlayerStats[T]) (models.AnalysisResponse[models.DefaultAnalysisResult], error) {
	entries := make([]models.BatchEntry[T], len(stats))
	for i, s := range stats {
		entries[i].Stats = s
	}
	return e.Analyze(ctx, entries)
}

func (e *Engine[T]) analyzeOne(f *forest.Forest, entry *models.BatchEntry[T]) models.PlayerResult[models.DefaultAnalysisResult] {
	result := models.DefaultAnalysisResult{Flags: []string{}}

	data := entry.Stats.Data
	invalid := entry.DecodeErr != nil
	if invalid {
		// Neutral features: score the zero payload so the vector length and
		// response shape stay intact, then flag the data problem.
		var zero T
		data = zero
	}

	vec := e.extractor.Extract(data)
	score, err := f.Predict(vec)
	if err != nil {
		// Extractor and model were validated against each other at load
		// time, so this is a data-quality problem, not a caller error.
		e.logger.Warnw("Prediction failed, scoring neutral",
			"player", entry.Stats.PlayerID, "error", err)
		invalid = true
		score = 0
	}
	result.SuspicionScore = score
	suspicionScores.Observe(score)

	if invalid {
		if entry.DecodeErr != nil {
			e.logger.Warnw("Malformed batch entry scored with neutral features",
				"player", entry.Stats.PlayerID, "error", entry.DecodeErr)
		}
		invalidEntries.Inc()
		result.Flags = append(result.Flags, FlagInvalidData)
		flagsRaised.WithLabelValues(FlagInvalidData).Inc()
	} else {
		for _, rule := range e.rules {
			if rule.Match(data) {
				result.Flags = append(result.Flags, rule.Name)
				flagsRaised.WithLabelValues(rule.Name).Inc()
			}
		}
	}

	return models.PlayerResult[models.DefaultAnalysisResult]{
		PlayerID: entry.Stats.PlayerID,
		Result:   result,
	}
}

// Describe summarizes the engine configuration for startup logging.
func (e *Engine[T]) Describe() string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return fmt.Sprintf("features=%v rules=%v", e.extractor.Names(), names)
}
