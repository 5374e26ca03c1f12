package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/loop"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/pipeline"
	"github.com/itohio/goenvml/pkg/report"
	"github.com/itohio/goenvml/pkg/sensor"
)

func predictCmd() *cli.Command {
	var (
		bundlePath string
		rounding   string
		format     string
		output     string
		precision  int
		explain    bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "explain",
			Aliases:     []string{"x"},
			Usage:       "print every pipeline stage to stderr",
			Destination: &explain,
		},
	}
	flags = append(flags, modelFlags(&bundlePath, &rounding)...)
	flags = append(flags, reportFlags(&format, &output, &precision)...)

	return &cli.Command{
		Name:      "predict",
		Usage:     "Classify a single reading",
		ArgsUsage: "[--] LIGHT TEMPERATURE HUMIDITY TVOC ECO2",
		Description: "Values are in V, °C, %RH, ppb and ppm. Use -1 for a missing reading;\n" +
			"it is replaced with the configured substitution value. Put -- before\n" +
			"the values when any of them is negative.",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			v, err := parseValues(cmd.Args().Slice())
			if err != nil {
				return err
			}

			a, err := setup()
			if err != nil {
				return err
			}
			if bundlePath != "" {
				a.cfg.Model.Bundle = bundlePath
			}
			if rounding != "" {
				a.cfg.Model.Rounding = rounding
			}
			applyReportFlags(a, format, output, precision)
			if err := a.validate(); err != nil {
				return err
			}

			p, _, err := a.newPipeline()
			if err != nil {
				return err
			}
			rep, closer, err := a.newReporter(p.Labels())
			if err != nil {
				return err
			}
			defer closer.Close()

			l := loop.New(nil, p, rep,
				loop.WithLogger(a.log),
				loop.WithSubstitution(sensor.NewSubstitution(a.cfg.Sensor.Substitute)),
				loop.WithScenario(a.cfg.Loop.Scenario))

			rec, err := l.Step(sensor.Reading{Values: v})
			if err != nil {
				return err
			}
			if explain {
				explainRecord(os.Stderr, p, rec)
			}
			return rep.Flush()
		},
	}
}

// parseValues reads the five channel values.
func parseValues(args []string) (normalize.Values, error) {
	var v normalize.Values
	if len(args) != normalize.Channels {
		return v, fmt.Errorf("expected %d values (%s), got %d",
			normalize.Channels, strings.Join(normalize.Names[:], ", "), len(args))
	}
	for i, s := range args {
		x, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return v, fmt.Errorf("invalid %s %q: %w", normalize.Names[i], s, err)
		}
		v[i] = float32(x)
	}
	return v, nil
}

// explainRecord prints the intermediate values of one cycle.
func explainRecord(w io.Writer, p *pipeline.Pipeline, rec *report.Record) {
	res := rec.Result
	in, out := p.InputParams(), p.OutputParams()

	fmt.Fprintf(w, "reading       %v\n", rec.Reading.Values)
	fmt.Fprintf(w, "substituted   %s\n", rec.Substituted)
	fmt.Fprintf(w, "normalized    %v\n", res.Normalized)
	fmt.Fprintf(w, "input codes   %v  (scale %g, zero point %d)\n", res.Input, in.Scale, in.ZeroPoint)
	fmt.Fprintf(w, "output codes  %v  (scale %g, zero point %d)\n", res.Output, out.Scale, out.ZeroPoint)
	fmt.Fprintf(w, "logits        %v\n", res.Logits)
	fmt.Fprintf(w, "probabilities %v\n", res.Probabilities)
	if res.Degenerate {
		fmt.Fprintf(w, "class         none (%v)\n", res.Err())
	} else {
		fmt.Fprintf(w, "class         %d %s\n", res.Class, res.Label)
	}
	fmt.Fprintf(w, "latency       %s\n", rec.Latency)
}
