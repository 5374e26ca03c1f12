package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/itohio/goenvml/pkg/sensor"
)

func portsCmd() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "List serial ports",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ports, err := sensor.Ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tDESCRIPTION")
			for _, p := range ports {
				usb, id := "-", "-"
				if p.USB {
					usb = "yes"
					id = p.VID + ":" + p.PID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, usb, id, p.Description)
			}
			return tw.Flush()
		},
	}
}
