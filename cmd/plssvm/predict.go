package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/backend"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/dataset"
	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/perf"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Predict the labels of a LIBSVM data file with a trained model",
		ArgsUsage: "<test_file> <model_file> [output_file]",
		Before:    setup,
		Flags:     commonFlags(backendFlags(), tuningFlags(), perfFlags()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 || cmd.NArg() > 3 {
				return cli.Exit("predict: expected <test_file> <model_file> [output_file]", 1)
			}
			applyBackendConfig(cmd, configFromContext(ctx))

			testFile := cmd.Args().Get(0)
			modelFile := cmd.Args().Get(1)
			outFile := cmd.Args().Get(2)
			if outFile == "" {
				outFile = filepath.Base(testFile) + ".predict"
			}
			opts, err := backendOptions(ctx, cmd)
			if err != nil {
				return err
			}

			var tracker *perf.Tracker
			if perfFile != "" {
				tracker = perf.New()
				ctx = perf.WithContext(ctx, tracker)
			}
			single, err := usesFloat()
			if err != nil {
				return err
			}
			if single {
				err = predict[float32](ctx, opts, testFile, modelFile, outFile)
			} else {
				err = predict[float64](ctx, opts, testFile, modelFile, outFile)
			}
			if err != nil {
				return err
			}
			return tracker.Save(perfFile)
		},
	}
}

// padPoints extends sparse points that end before the model's last feature.
func padPoints[T csvm.Real](points [][]T, numFeatures int) error {
	for i, p := range points {
		switch {
		case len(p) > numFeatures:
			return svmerr.InvalidData("predict", "point %d has %d features, model expects %d", i, len(p), numFeatures)
		case len(p) < numFeatures:
			points[i] = append(p, make([]T, numFeatures-len(p))...)
		}
	}
	return nil
}

func predict[T csvm.Real](ctx context.Context, opts backend.Options, testFile, modelFile, outFile string) error {
	log := logger.FromContext(ctx)
	tracker := perf.FromContext(ctx)

	stop := tracker.Time(perf.CategoryTiming, "read_model")
	model, err := csvm.LoadModel[T](modelFile)
	stop()
	if err != nil {
		return err
	}
	stop = tracker.Time(perf.CategoryTiming, "read_data")
	set, err := dataset.Load[T](testFile)
	stop()
	if err != nil {
		return err
	}
	if err := padPoints(set.Points, model.NumFeatures()); err != nil {
		return err
	}
	log.Info("read data", "file", testFile, "points", len(set.Points), "model", modelFile, "support_vectors", len(model.SV))
	tracker.Add(perf.CategoryParameter, "test_file", testFile)
	tracker.Add(perf.CategoryParameter, "model_file", modelFile)
	tracker.Add(perf.CategoryParameter, "num_predict_points", len(set.Points))

	svm, err := backend.NewFromModel(ctx, opts, model)
	if err != nil {
		return err
	}
	defer func() { _ = svm.Close() }()

	stop = tracker.Time(perf.CategoryTiming, "predict")
	pred, err := svm.PredictLabels(set.Points)
	stop()
	if err != nil {
		return err
	}
	labels := make([]float64, len(pred))
	for i, p := range pred {
		labels[i] = dataset.Original(p, model.Labels)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := dataset.WriteLabels(f, labels); err != nil {
		_ = f.Close()
		return fmt.Errorf("write predictions: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Info("wrote predictions", "file", outFile)

	if set.Labelled() {
		correct := 0
		for i, l := range labels {
			if l == set.Labels[i] {
				correct++
			}
		}
		acc := float64(correct) / float64(len(labels))
		tracker.Add(perf.CategoryParameter, "accuracy", acc)
		fmt.Printf("accuracy = %.2f%% (%d/%d)\n", 100*acc, correct, len(labels))
	}
	return nil
}
