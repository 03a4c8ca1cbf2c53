package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nocheat/detect-api/internal/features"
	"github.com/nocheat/detect-api/internal/forest"
	"github.com/nocheat/detect-api/internal/models"
	"github.com/nocheat/detect-api/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: trainer <command> [flags]

Commands:
  default   Train the built-in synthetic model and write it to disk
  custom    Train a model from a JSON file of labeled player documents

Run "trainer <command> -h" for command flags.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	switch os.Args[1] {
	case "default":
		runDefault(os.Args[2:], sugar)
	case "custom":
		runTrain(os.Args[2:], sugar)
	default:
		usage()
	}
}

func trainFlags(fs *flag.FlagSet) (out *string, opts func() forest.TrainOptions) {
	out = fs.String("out", "models/cheat_model.bin", "output model path")
	trees := fs.Int("trees", 100, "number of trees")
	maxDepth := fs.Int("max-depth", 10, "maximum tree depth")
	minLeaf := fs.Int("min-leaf", 2, "minimum samples per leaf")
	seed := fs.Int64("seed", 1, "training seed")
	return out, func() forest.TrainOptions {
		return forest.TrainOptions{
			Trees:       *trees,
			MaxDepth:    *maxDepth,
			MinLeafSize: *minLeaf,
			Seed:        *seed,
		}
	}
}

func runDefault(args []string, sugar *zap.SugaredLogger) {
	fs := flag.NewFlagSet("default", flag.ExitOnError)
	out, opts := trainFlags(fs)
	fs.Parse(args)

	f, err := store.GenerateDefaultModel(context.Background(), *out, opts())
	if err != nil {
		sugar.Fatalw("Training failed", "error", err)
	}

	sugar.Infow("Default model written",
		"path", *out,
		"trees", f.TreeCount(),
		"features", f.FeatureCount(),
	)
}

func runTrain(args []string, sugar *zap.SugaredLogger) {
	fs := flag.NewFlagSet("custom", flag.ExitOnError)
	out, opts := trainFlags(fs)
	data := fs.String("data", "", "JSON file with labeled player documents (required)")
	fs.Parse(args)

	if *data == "" {
		fmt.Fprintln(os.Stderr, "custom: -data is required")
		fs.Usage()
		os.Exit(2)
	}

	raw, err := os.ReadFile(*data)
	if err != nil {
		sugar.Fatalw("Failed to read training data", "error", err)
	}

	entries, err := models.DecodeStatsBatch[models.DefaultPlayerData](raw)
	if err != nil {
		sugar.Fatalw("Failed to decode training data", "error", err)
	}

	extractor := features.NewFPSExtractor()
	var samples [][]float64
	var labels []float64
	for i, entry := range entries {
		if entry.DecodeErr != nil {
			sugar.Fatalw("Malformed training document", "index", i, "player_id", entry.Stats.PlayerID, "error", entry.DecodeErr)
		}
		if entry.Stats.Data.TrainingLabel == nil {
			sugar.Fatalw("Training document missing training_label", "index", i, "player_id", entry.Stats.PlayerID)
		}
		samples = append(samples, extractor.Extract(entry.Stats.Data))
		labels = append(labels, *entry.Stats.Data.TrainingLabel)
	}

	f, err := forest.Train(context.Background(), samples, labels, opts())
	if err != nil {
		sugar.Fatalw("Training failed", "error", err)
	}

	if err := store.Save(f, *out); err != nil {
		sugar.Fatalw("Failed to save model", "error", err)
	}

	// Resubstitution accuracy, a quick sanity signal rather than a real
	// evaluation.
	correct := 0
	for i, s := range samples {
		p, err := f.Predict(s)
		if err == nil && (p >= 0.5) == (labels[i] >= 0.5) {
			correct++
		}
	}

	sugar.Infow("Model written",
		"path", *out,
		"samples", len(samples),
		"trees", f.TreeCount(),
		"features", f.FeatureCount(),
		"training_accuracy", float64(correct)/float64(len(samples)),
	)
}
