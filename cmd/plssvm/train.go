package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/backend"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/dataset"
	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/perf"
)

type trainFlags struct {
	kernelType string
	degree     int64
	gamma      float64
	coef0      float64
	cost       float64
	epsilon    float64
	maxIter    int64
}

func (f trainFlags) parameter() (csvm.Parameter, error) {
	kernel, err := csvm.ParseKernelType(f.kernelType)
	if err != nil {
		return csvm.Parameter{}, err
	}
	p := csvm.Parameter{
		Kernel: kernel,
		Degree: int(f.degree),
		Gamma:  f.gamma,
		Coef0:  f.coef0,
		Cost:   f.cost,
	}
	return p, p.Validate()
}

func trainCmd() *cli.Command {
	var f trainFlags
	def := csvm.DefaultParameter()

	return &cli.Command{
		Name:      "train",
		Usage:     "Learn a model from a LIBSVM data file",
		ArgsUsage: "<training_file> [model_file]",
		Before:    setup,
		Flags: commonFlags(backendFlags(), tuningFlags(), perfFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:        "kernel-type",
				Aliases:     []string{"t"},
				Usage:       "kernel (linear|0, polynomial|poly|1, rbf|2)",
				Value:       def.Kernel.String(),
				Destination: &f.kernelType,
			},
			&cli.Int64Flag{
				Name:        "degree",
				Aliases:     []string{"d"},
				Usage:       "degree of the polynomial kernel",
				Value:       int64(def.Degree),
				Destination: &f.degree,
			},
			&cli.Float64Flag{
				Name:        "gamma",
				Aliases:     []string{"g"},
				Usage:       "gamma of the polynomial and rbf kernels (0 = 1/num_features)",
				Destination: &f.gamma,
			},
			&cli.Float64Flag{
				Name:        "coef0",
				Aliases:     []string{"r"},
				Usage:       "coef0 of the polynomial kernel",
				Destination: &f.coef0,
			},
			&cli.Float64Flag{
				Name:        "cost",
				Aliases:     []string{"c"},
				Usage:       "regularization parameter C",
				Value:       def.Cost,
				Destination: &f.cost,
			},
			&cli.Float64Flag{
				Name:        "epsilon",
				Aliases:     []string{"e"},
				Usage:       "relative residual at which the CG solver stops",
				Value:       csvm.DefaultLearnOptions().Epsilon,
				Destination: &f.epsilon,
			},
			&cli.Int64Flag{
				Name:        "max-iter",
				Aliases:     []string{"i"},
				Usage:       "maximum CG iterations (0 = number of data points)",
				Destination: &f.maxIter,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 || cmd.NArg() > 2 {
				return cli.Exit("train: expected <training_file> [model_file]", 1)
			}
			cfg := configFromContext(ctx)
			applyBackendConfig(cmd, cfg)
			applyTrainConfig(cmd, cfg, &f)

			dataFile := cmd.Args().Get(0)
			modelFile := cmd.Args().Get(1)
			if modelFile == "" {
				modelFile = filepath.Base(dataFile) + ".model"
			}

			param, err := f.parameter()
			if err != nil {
				return err
			}
			opts, err := backendOptions(ctx, cmd)
			if err != nil {
				return err
			}
			learn := csvm.LearnOptions{Epsilon: f.epsilon, MaxIter: int(f.maxIter)}

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
				err = train[float32](ctx, opts, param, learn, dataFile, modelFile)
			} else {
				err = train[float64](ctx, opts, param, learn, dataFile, modelFile)
			}
			if err != nil {
				return err
			}
			return tracker.Save(perfFile)
		},
	}
}

func train[T csvm.Real](ctx context.Context, opts backend.Options, param csvm.Parameter, learn csvm.LearnOptions, dataFile, modelFile string) error {
	log := logger.FromContext(ctx)
	tracker := perf.FromContext(ctx)

	stop := tracker.Time(perf.CategoryTiming, "read_data")
	set, err := dataset.Load[T](dataFile)
	stop()
	if err != nil {
		return err
	}
	labels, classes, err := set.Binary()
	if err != nil {
		return err
	}
	log.Info("read data", "file", dataFile, "points", len(set.Points), "features", set.NumFeatures, "labels", classes)
	tracker.Add(perf.CategoryParameter, "data_file", dataFile)
	tracker.Add(perf.CategoryParameter, "num_data_points", len(set.Points))
	tracker.Add(perf.CategoryParameter, "num_features", set.NumFeatures)

	svm, err := backend.New(ctx, opts, param, set.Points, labels)
	if err != nil {
		return err
	}
	defer func() { _ = svm.Close() }()
	svm.SetClassLabels(classes[0], classes[1])

	tracker.Add(perf.CategoryParameter, "kernel_type", svm.Parameter().Kernel.String())
	tracker.Add(perf.CategoryParameter, "cost", svm.Parameter().Cost)

	if err := svm.Learn(ctx, learn); err != nil {
		return err
	}

	if err := svm.SaveModel(modelFile); err != nil {
		return err
	}
	log.Info("wrote model", "file", modelFile)

	acc, err := svm.Accuracy()
	if err != nil {
		return err
	}
	tracker.Add(perf.CategoryParameter, "accuracy", acc)
	fmt.Printf("accuracy = %.2f%% on %d training points\n", 100*acc, len(set.Points))
	return nil
}
