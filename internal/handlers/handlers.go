package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nocheat/detect-api/internal/engine"
	"github.com/nocheat/detect-api/internal/models"
	"github.com/nocheat/detect-api/internal/worker"
)

// MaxBodySize limits the size of request bodies to 1MB
const MaxBodySize = 1048576

// AnalysisService is the scoring surface the HTTP layer depends on.
type AnalysisService interface {
	Analyze(ctx context.Context, entries []models.BatchEntry[models.DefaultPlayerData]) (models.AnalysisResponse[models.DefaultAnalysisResult], error)
	ReloadModel(path string) error
	ModelInfo() (engine.ModelInfo, bool)
	Ready() bool
}

// ResultQueue defines the interface for the result persistence worker pool.
// A nil queue disables persistence; analysis responses are unaffected.
type ResultQueue interface {
	Enqueue(job worker.Job) bool
	QueueDepth() int
}

type Config struct {
	Engine    AnalysisService
	Sink      ResultQueue
	ModelPath string
	Logger    *zap.Logger
}

type Handler struct {
	engine    AnalysisService
	sink      ResultQueue
	modelPath string
	logger    *zap.SugaredLogger
	validator *validator.Validate
}

func New(cfg Config) *Handler {
	return &Handler{
		engine:    cfg.Engine,
		sink:      cfg.Sink,
		modelPath: cfg.ModelPath,
		logger:    cfg.Logger.Sugar(),
		validator: validator.New(),
	}
}
