package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/config"
)

func configCmd() *cli.Command {
	var (
		outputPath string
		force      bool
	)

	return &cli.Command{
		Name:  "config",
		Usage: "Show or create the configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration (file, environment and defaults)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup()
					if err != nil {
						return err
					}
					data, err := a.cfg.Marshal()
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				},
			},
			{
				Name:  "init",
				Usage: "Write the default configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "output",
						Aliases:     []string{"o"},
						Usage:       "file to write (default: --config path)",
						Destination: &outputPath,
					},
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "overwrite an existing file",
						Destination: &force,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := outputPath
					if path == "" {
						path = configPath
					}
					if _, err := os.Stat(path); err == nil && !force {
						return fmt.Errorf("%s exists, use --force to overwrite", path)
					}
					if err := config.Default().Save(path); err != nil {
						return err
					}
					fmt.Println("wrote", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration and the model it selects",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup()
					if err != nil {
						return err
					}
					if err := a.validate(); err != nil {
						return err
					}
					if _, _, err := a.newPipeline(); err != nil {
						return err
					}
					fmt.Println("configuration ok")
					return nil
				},
			},
		},
	}
}
