package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/tiling"
)

var (
	configFile string

	backendName    string
	targetPlatform string
	precision      string
	numDevices     int64
	numWorkers     int64
	kernelSource   string
	syclImpl       string
	syclInvocation string

	threadBlockSize   int64
	featureBlockSize  int64
	internalBlockSize int64
	openMPBlockSize   int64

	logLevel  string
	logFormat string
	debug     bool

	perfFile string
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/plssvm/config.yaml)",
			Destination: &configFile,
		},
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "backend (automatic, openmp, cuda, hip, opencl, sycl)",
			Value:       "automatic",
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "target-platform",
			Aliases:     []string{"p"},
			Usage:       "target platform (automatic, cpu, gpu_nvidia, gpu_amd, gpu_intel)",
			Value:       "automatic",
			Destination: &targetPlatform,
		},
		&cli.StringFlag{
			Name:        "precision",
			Usage:       "floating point precision (float, double)",
			Value:       "double",
			Destination: &precision,
		},
		&cli.Int64Flag{
			Name:        "devices",
			Usage:       "number of devices to use (0 = all; virtual devices for openmp)",
			Destination: &numDevices,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "openmp worker goroutines per launch (0 = GOMAXPROCS)",
			Destination: &numWorkers,
		},
		&cli.StringFlag{
			Name:        "kernel-source",
			Usage:       "GPU kernel artifact (PTX, HIP code object or OpenCL C source)",
			Destination: &kernelSource,
		},
		&cli.StringFlag{
			Name:        "sycl-implementation-type",
			Usage:       "SYCL implementation (automatic, dpcpp, adaptivecpp)",
			Value:       "automatic",
			Destination: &syclImpl,
		},
		&cli.StringFlag{
			Name:        "sycl-kernel-invocation-type",
			Usage:       "SYCL kernel invocation (automatic, nd_range, hierarchical)",
			Value:       "automatic",
			Destination: &syclInvocation,
		},
	}
}

func tuningFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "thread-block-size",
			Usage:       "threads per block dimension",
			Value:       tiling.DefaultThreadBlockSize,
			Destination: &threadBlockSize,
		},
		&cli.Int64Flag{
			Name:        "feature-block-size",
			Usage:       "features per block (twice the thread block size)",
			Value:       tiling.DefaultFeatureBlockSize,
			Destination: &featureBlockSize,
		},
		&cli.Int64Flag{
			Name:        "internal-block-size",
			Usage:       "elements per thread and dimension",
			Value:       tiling.DefaultInternalBlockSize,
			Destination: &internalBlockSize,
		},
		&cli.Int64Flag{
			Name:        "openmp-block-size",
			Usage:       "tile size of the openmp backend",
			Value:       tiling.DefaultOpenMPBlockSize,
			Destination: &openMPBlockSize,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func perfFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "performance-tracking",
			Usage:       "append performance statistics to this file (.json writes JSON, otherwise YAML)",
			Destination: &perfFile,
		},
	}
}

func commonFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	out = append(out, configFlags()...)
	out = append(out, loggingFlags()...)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
