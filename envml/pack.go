package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/bundle"
)

func packCmd() *cli.Command {
	var (
		manifestPath string
		outputPath   string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Build an .envq bundle from a JSON manifest exported by training",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "manifest",
				Usage:       "path to the JSON manifest",
				Destination: &manifestPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "bundle file to write",
				Destination: &outputPath,
				Required:    true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in, err := os.Open(manifestPath)
			if err != nil {
				return fmt.Errorf("failed to open manifest: %w", err)
			}
			defer in.Close()

			m, err := bundle.ReadManifest(in)
			if err != nil {
				return err
			}
			b, err := m.Build()
			if err != nil {
				return err
			}
			data, err := bundle.Encode(b)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outputPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write bundle: %w", err)
			}

			fmt.Printf("wrote %s: %d bytes, build id %s, checksum %08x\n",
				outputPath, len(data), b.Header.BuildID, b.Header.Checksum)
			return nil
		},
	}
}
