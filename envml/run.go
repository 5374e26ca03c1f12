package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/loop"
	"github.com/itohio/goenvml/pkg/metrics"
	"github.com/itohio/goenvml/pkg/sensor"
)

func runCmd() *cli.Command {
	var (
		bundlePath string
		rounding   string
		format     string
		output     string
		precision  int

		port     string
		mock     bool
		replay   string
		scenario string
		cycles   int
		textfile string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "serial port of the sensor node",
			Destination: &port,
		},
		&cli.BoolFlag{
			Name:        "mock",
			Usage:       "read from the built-in simulator instead of a serial port",
			Destination: &mock,
		},
		&cli.StringFlag{
			Name:        "replay",
			Usage:       "read a captured console log, - for stdin",
			Destination: &replay,
		},
		&cli.StringFlag{
			Name:        "scenario",
			Usage:       fmt.Sprintf("simulator scenario %v", sensor.Scenarios),
			Destination: &scenario,
		},
		&cli.IntFlag{
			Name:        "cycles",
			Aliases:     []string{"n"},
			Usage:       "stop after this many cycles (0 = until interrupted)",
			Destination: &cycles,
		},
		&cli.StringFlag{
			Name:        "metrics-textfile",
			Usage:       "write Prometheus metrics to this file",
			Destination: &textfile,
		},
	}
	flags = append(flags, modelFlags(&bundlePath, &rounding)...)
	flags = append(flags, reportFlags(&format, &output, &precision)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Classify readings from the sensor node, the simulator or a captured log",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup()
			if err != nil {
				return err
			}

			cfg := a.cfg
			if port != "" {
				cfg.Serial.Port = port
			}
			if scenario != "" {
				cfg.Mock.Scenario = scenario
			}
			if cmd.IsSet("cycles") {
				cfg.Loop.Cycles = cycles
			}
			if textfile != "" {
				cfg.Metrics.Textfile = textfile
			}
			if bundlePath != "" {
				cfg.Model.Bundle = bundlePath
			}
			if rounding != "" {
				cfg.Model.Rounding = rounding
			}
			applyReportFlags(a, format, output, precision)
			if err := a.validate(); err != nil {
				return err
			}

			p, b, err := a.newPipeline()
			if err != nil {
				a.log.Error("model init failed", "error", err)
				return err
			}

			src, err := a.newSource(mock, replay)
			if err != nil {
				return err
			}
			if err := src.Connect(); err != nil {
				return err
			}
			defer src.Close()

			rep, closer, err := a.newReporter(p.Labels())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []loop.Option{
				loop.WithLogger(a.log),
				loop.WithSubstitution(sensor.NewSubstitution(cfg.Sensor.Substitute)),
				loop.WithInterval(cfg.Loop.Interval),
				loop.WithCycles(uint64(cfg.Loop.Cycles)),
				loop.WithScenario(cfg.Loop.Scenario),
			}
			if n := cfg.Sensor.AverageSamples; n > 1 {
				opts = append(opts, loop.WithStages(sensor.NewAverager(n, cfg.Serial.BufferSize)))
			}

			var flushed chan error
			if cfg.Metrics.Textfile != "" {
				m := metrics.NewManager()
				m.RecordModel(b.Header.BuildID.String(), p.Engine().ArenaUsed())
				opts = append(opts, loop.WithMetrics(m))

				flushCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				flushed = make(chan error, 1)
				go func() {
					flushed <- m.Flush(flushCtx, cfg.Metrics.Textfile, cfg.Metrics.Interval, func(err error) {
						a.log.Warn("failed to write metrics", "error", err)
					})
				}()
				defer func() {
					cancel()
					if err := <-flushed; err != nil {
						a.log.Error("failed to write metrics", "error", err)
					}
				}()
			}

			err = loop.New(src, p, rep, opts...).Run(ctx)
			if loop.IsShutdown(err) {
				return nil
			}
			return err
		},
	}
}

// newSource picks the reading source: replay, simulator or serial port.
func (a *app) newSource(mock bool, replay string) (sensor.Source, error) {
	switch {
	case replay == "-":
		return sensor.NewStream("stdin", os.Stdin, a.log), nil
	case replay != "":
		f, err := os.Open(replay)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay: %w", err)
		}
		return sensor.NewStream(replay, f, a.log), nil
	case mock:
		a.log.Info("using simulator", "scenario", a.cfg.Mock.Scenario, "sgp30", a.cfg.Mock.SGP30)
		m, err := sensor.NewMock(a.cfg.Mock)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		a.log.Info("opening serial port", "port", a.cfg.Serial.Port, "baud", a.cfg.Serial.BaudRate)
		return sensor.NewSerial(a.cfg.Serial, a.log), nil
	}
}

// applyReportFlags overrides the report section with command flags.
func applyReportFlags(a *app, format, output string, precision int) {
	if format != "" {
		a.cfg.Report.Format = format
	}
	if output != "" {
		a.cfg.Report.Output = output
	}
	if precision > 0 {
		a.cfg.Report.Precision = precision
	}
}
