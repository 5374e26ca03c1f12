package main

import "github.com/urfave/cli/v3"

var (
	configPath string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to config.yaml (missing file = defaults)",
			Value:       "config.yaml",
			Sources:     cli.EnvVars("ENVML_CONFIG"),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error), overrides the config",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text), overrides the config",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// modelFlags select the bundle and how it is evaluated.
func modelFlags(bundlePath *string, rounding *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bundle",
			Aliases:     []string{"m"},
			Usage:       "path to an .envq bundle (default: config or embedded model)",
			Destination: bundlePath,
		},
		&cli.StringFlag{
			Name:        "rounding",
			Usage:       "input quantization rounding (truncate, nearest)",
			Destination: rounding,
		},
	}
}

// reportFlags select the report format and destination.
func reportFlags(format, output *string, precision *int) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"f"},
			Usage:       "report format (text, csv, json)",
			Destination: format,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "report file, - for stdout",
			Destination: output,
		},
		&cli.IntFlag{
			Name:        "precision",
			Usage:       "probability decimals",
			Destination: precision,
		},
	}
}
