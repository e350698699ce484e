package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func main() {
	app := &cli.Command{
		Name:  "plssvm",
		Usage: "Least-squares support vector machine on CPUs and GPUs",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			trainCmd(),
			predictCmd(),
			serveCmd(),
			devicesCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if loc := svmerr.Location(err); loc != "" {
			_, _ = fmt.Fprintf(os.Stderr, "  at %s\n", loc)
		}
		os.Exit(1)
	}
}
