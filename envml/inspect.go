package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/bundle"
	"github.com/itohio/goenvml/pkg/quant"
)

// bundleInfo is the inspect --json output.
type bundleInfo struct {
	Path        string       `json:"path"`
	Version     string       `json:"version"`
	BuildID     string       `json:"build_id"`
	Flags       uint32       `json:"flags"`
	Checksum    string       `json:"checksum"`
	Input       quant.Params `json:"input"`
	Output      quant.Params `json:"output"`
	InputArity  int          `json:"input_arity"`
	OutputArity int          `json:"output_arity"`
	ArenaBytes  int          `json:"arena_bytes"`
	ArenaPlan   int          `json:"arena_plan"`
	Params      int          `json:"params"`
	Layers      []layerInfo  `json:"layers"`
}

type layerInfo struct {
	Op              string  `json:"op"`
	Activation      string  `json:"activation"`
	In              int     `json:"in"`
	Out             int     `json:"out"`
	InputZeroPoint  int32   `json:"input_zero_point"`
	OutputZeroPoint int32   `json:"output_zero_point"`
	Multiplier      int32   `json:"multiplier"`
	Shift           int32   `json:"shift"`
	RealMultiplier  float64 `json:"real_multiplier"`
}

func inspectCmd() *cli.Command {
	var (
		bundlePath string
		asJSON     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the header and layer graph of a model bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bundle",
				Aliases:     []string{"m"},
				Usage:       "path to an .envq bundle (default: config or embedded model)",
				Destination: &bundlePath,
			},
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if bundlePath != "" {
				a.cfg.Model.Bundle = bundlePath
			}

			b, err := a.loadBundle()
			if err != nil {
				return err
			}

			info := describe(b)
			info.Path = a.cfg.Model.Bundle
			if info.Path == "" {
				info.Path = "(embedded)"
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return printInfo(os.Stdout, info)
		},
	}
}

func describe(b *bundle.Bundle) bundleInfo {
	h := &b.Header
	info := bundleInfo{
		Version:     fmt.Sprintf("%d.%d", h.Major, h.Minor),
		BuildID:     h.BuildID.String(),
		Flags:       h.Flags,
		Checksum:    fmt.Sprintf("%08x", h.Checksum),
		Input:       h.Input,
		Output:      h.Output,
		InputArity:  h.InputArity,
		OutputArity: h.OutputArity,
		ArenaBytes:  h.ArenaBytes,
		ArenaPlan:   2 * b.MaxWidth(),
		Params:      b.Params(),
	}
	for i := range b.Layers {
		l := &b.Layers[i]
		info.Layers = append(info.Layers, layerInfo{
			Op:              l.Op.String(),
			Activation:      l.Activation.String(),
			In:              l.In,
			Out:             l.Out,
			InputZeroPoint:  l.InputZeroPoint,
			OutputZeroPoint: l.OutputZeroPoint,
			Multiplier:      l.Multiplier,
			Shift:           l.Shift,
			RealMultiplier:  float64(l.Multiplier) * math.Pow(2, float64(l.Shift-31)),
		})
	}
	return info
}

func printInfo(w io.Writer, info bundleInfo) error {
	fmt.Fprintf(w, "bundle:      %s\n", info.Path)
	fmt.Fprintf(w, "version:     %s\n", info.Version)
	fmt.Fprintf(w, "build id:    %s\n", info.BuildID)
	fmt.Fprintf(w, "checksum:    %s\n", info.Checksum)
	fmt.Fprintf(w, "input:       %d values, scale %g, zero point %d\n", info.InputArity, info.Input.Scale, info.Input.ZeroPoint)
	fmt.Fprintf(w, "output:      %d values, scale %g, zero point %d\n", info.OutputArity, info.Output.Scale, info.Output.ZeroPoint)
	fmt.Fprintf(w, "arena:       %d bytes declared, %d needed\n", info.ArenaBytes, info.ArenaPlan)
	fmt.Fprintf(w, "parameters:  %d\n\n", info.Params)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tOP\tACT\tSHAPE\tIN ZP\tOUT ZP\tMULTIPLIER\tSHIFT\tSCALE")
	for i, l := range info.Layers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%dx%d\t%d\t%d\t%d\t%d\t%.6g\n",
			i, l.Op, l.Activation, l.In, l.Out,
			l.InputZeroPoint, l.OutputZeroPoint, l.Multiplier, l.Shift, l.RealMultiplier)
	}
	return tw.Flush()
}
