package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"golang.org/x/sys/cpu"

	"github.com/samcharles93/plssvm/internal/backend"
)

// cpuFeatures lists the SIMD extensions of the host relevant to the openmp kernels.
func cpuFeatures() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return out
}

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:   "devices",
		Usage:  "List compiled-in backends and visible devices",
		Before: setup,
		Flags:  commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			features := strings.Join(cpuFeatures(), ",")
			if features == "" {
				features = "-"
			}
			fmt.Printf("host: %s/%s, %d cpus, features %s\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), features)
			fmt.Printf("backends: %s\n", backend.AvailableString())

			var targets []string
			for _, t := range backend.AvailableTargets() {
				targets = append(targets, string(t))
			}
			fmt.Printf("target platforms: %s\n\n", strings.Join(targets, ","))

			devices, errs := backend.Devices()
			data := [][]string{{string(backend.OpenMP), "0", "host (" + strconv.Itoa(runtime.NumCPU()) + " threads)"}}
			for _, d := range devices {
				data = append(data, []string{string(d.Backend), strconv.Itoa(d.Index), d.Name})
			}
			for b, err := range errs {
				data = append(data, []string{string(b), "-", "error: " + err.Error()})
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"BACKEND", "DEVICE", "NAME"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}
