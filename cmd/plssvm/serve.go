package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/api"
	"github.com/samcharles93/plssvm/internal/backend"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		modelFile   string
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		maxPoints   int64
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve predictions of a trained model over HTTP",
		Before: setup,
		Flags: commonFlags(backendFlags(), tuningFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the LIBSVM model file",
				Required:    true,
				Destination: &modelFile,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "predict requests per second (0 = unlimited)",
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "max-points",
				Usage:       "maximum points per predict request (0 = unlimited)",
				Value:       65536,
				Destination: &maxPoints,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyBackendConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr, &rateLimit)

			opts, err := backendOptions(ctx, cmd)
			if err != nil {
				return err
			}
			single, err := usesFloat()
			if err != nil {
				return err
			}
			var (
				predictor api.Predictor
				release   func() error
			)
			if single {
				predictor, release, err = loadPredictor[float32](ctx, opts, modelFile)
			} else {
				predictor, release, err = loadPredictor[float64](ctx, opts, modelFile)
			}
			if err != nil {
				return err
			}
			defer func() {
				if err := release(); err != nil {
					log.Warn("release backend", "error", err)
				}
			}()

			server := api.NewServer(predictor, api.Config{
				MaxPoints: int(maxPoints),
				RateLimit: rateLimit,
				Burst:     max(1, int(rateLimit)),
				Logger:    log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "model", modelFile)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sc.Start(ctx, e)
		},
	}
}

// loadPredictor reads the model and binds it to a backend for the lifetime of
// the process.
func loadPredictor[T csvm.Real](ctx context.Context, opts backend.Options, path string) (api.Predictor, func() error, error) {
	model, err := csvm.LoadModel[T](path)
	if err != nil {
		return nil, nil, err
	}
	svm, err := backend.NewFromModel(ctx, opts, model)
	if err != nil {
		return nil, nil, err
	}
	return api.NewPredictor(svm), svm.Close, nil
}
