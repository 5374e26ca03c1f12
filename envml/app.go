package main

import (
	"fmt"
	"io"
	"os"

	"github.com/itohio/goenvml/pkg/bundle"
	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/engine"
	"github.com/itohio/goenvml/pkg/logger"
	"github.com/itohio/goenvml/pkg/model"
	"github.com/itohio/goenvml/pkg/pipeline"
	"github.com/itohio/goenvml/pkg/report"
)

// app holds what every command needs.
type app struct {
	cfg *config.Config
	log logger.Logger
}

// setup loads the configuration and builds the logger. Global flags take
// precedence over the file and the environment.
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	log, err := logger.Open(os.Stderr, cfg.Log.Format, logger.ParseLevel(cfg.Log.Level))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

// validate checks the configuration after command flags were applied.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadBundle opens the configured bundle, or the embedded model.
func (a *app) loadBundle() (*bundle.Bundle, error) {
	path := a.cfg.Model.Bundle
	if path == "" {
		b, err := model.Default()
		if err != nil {
			return nil, &engine.ModelInitError{Reason: "embedded model", Err: err}
		}
		a.log.Debug("using embedded model", "build_id", b.Header.BuildID)
		return b, nil
	}

	b, err := bundle.Open(path)
	if err != nil {
		return nil, &engine.ModelInitError{Reason: path, Err: err}
	}
	a.log.Debug("loaded model", "path", path, "build_id", b.Header.BuildID)
	return b, nil
}

// newPipeline loads the model and builds the pipeline.
func (a *app) newPipeline() (*pipeline.Pipeline, *bundle.Bundle, error) {
	b, err := a.loadBundle()
	if err != nil {
		return nil, nil, err
	}

	profile, err := a.cfg.Profile()
	if err != nil {
		return nil, nil, err
	}
	rounding, err := a.cfg.Rounding()
	if err != nil {
		return nil, nil, err
	}
	buildID, err := a.cfg.BuildID()
	if err != nil {
		return nil, nil, err
	}

	labels := a.cfg.Model.Labels
	if len(labels) != b.Header.OutputArity {
		if len(labels) > 0 {
			a.log.Warn("label count does not match the model, using class numbers",
				"labels", len(labels), "outputs", b.Header.OutputArity)
		}
		labels = nil
	}

	p, err := pipeline.New(b,
		pipeline.WithProfile(profile),
		pipeline.WithRounding(rounding),
		pipeline.WithLabels(labels...),
		pipeline.WithEngineOptions(
			engine.WithArenaCapacity(a.cfg.Model.ArenaBytes),
			engine.WithBuildID(buildID),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	e := p.Engine()
	a.log.Info("model ready",
		"build_id", b.Header.BuildID,
		"layers", len(b.Layers),
		"arena", fmt.Sprintf("%d/%d", e.ArenaUsed(), e.ArenaCapacity()),
		"rounding", rounding)
	return p, b, nil
}

// newReporter opens the report destination. The returned closer must be
// called after the last report.
func (a *app) newReporter(labels []string) (report.Reporter, io.Closer, error) {
	var w io.WriteCloser = nopCloser{os.Stdout}
	if out := a.cfg.Report.Output; out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create report file: %w", err)
		}
		w = f
	}

	r, err := report.New(a.cfg.Report.Format, w,
		report.WithPrecision(a.cfg.Report.Precision),
		report.WithLabels(labels...))
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return r, w, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
