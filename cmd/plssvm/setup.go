package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/backend"
	"github.com/samcharles93/plssvm/internal/backend/sycl"
	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

type configKey struct{}

// setup is the Before hook of every command: it loads the config file, builds
// the logger and stores both in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// backendOptions builds the backend options from the backend and tuning flags.
func backendOptions(ctx context.Context, cmd *cli.Command) (backend.Options, error) {
	b, err := backend.Normalize(backendName)
	if err != nil {
		return backend.Options{}, err
	}
	target, err := backend.NormalizeTarget(targetPlatform)
	if err != nil {
		return backend.Options{}, err
	}
	impl, err := sycl.ParseImplementationType(syclImpl)
	if err != nil {
		return backend.Options{}, err
	}
	inv, err := sycl.ParseKernelInvocationType(syclInvocation)
	if err != nil {
		return backend.Options{}, err
	}
	if b != backend.SYCL {
		log := logger.FromContext(ctx)
		if cmd.IsSet("sycl-implementation-type") {
			log.Warn("sycl implementation type set but backend is not sycl, ignoring", "backend", string(b), "implementation", impl.String())
		}
		if cmd.IsSet("sycl-kernel-invocation-type") {
			log.Warn("sycl kernel invocation type set but backend is not sycl, ignoring", "backend", string(b), "invocation", inv.String())
		}
	}

	opts := backend.Options{
		Backend: b,
		Target:  target,
		Tuning: tiling.Config{
			ThreadBlockSize:   int(threadBlockSize),
			FeatureBlockSize:  int(featureBlockSize),
			InternalBlockSize: int(internalBlockSize),
			OpenMPBlockSize:   int(openMPBlockSize),
		},
		Devices:            int(numDevices),
		Workers:            int(numWorkers),
		SYCLImplementation: impl,
		SYCLInvocation:     inv,
		KernelSource:       kernelSource,
	}
	if err := opts.Tuning.Validate(); err != nil {
		return backend.Options{}, svmerr.Wrap(svmerr.KindInvalidParameter, "tuning", err, "invalid tuning configuration")
	}
	return opts, nil
}

// usesFloat reports whether the precision flag selects single precision.
func usesFloat() (bool, error) {
	switch strings.ToLower(precision) {
	case "float", "single", "f32":
		return true, nil
	case "double", "f64", "":
		return false, nil
	default:
		return false, fmt.Errorf("unknown precision %q (expected float or double)", precision)
	}
}
