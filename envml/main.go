// Command envml runs the quantized environment classifier on a host: live
// from the sensor node's serial console, from the built-in simulator or from
// a captured log.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/engine"
)

// exitModelInit is the exit status for a model that cannot be loaded.
const exitModelInit = 2

func main() {
	app := &cli.Command{
		Name:  "envml",
		Usage: "Quantized environment classifier",
		Flags: globalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			predictCmd(),
			inspectCmd(),
			packCmd(),
			portsCmd(),
			configCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, engine.ErrModelInit) {
			os.Exit(exitModelInit)
		}
		os.Exit(1)
	}
}
