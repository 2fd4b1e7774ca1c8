package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/polaris-accum/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "polaris-accum"
	app.Usage = "progressively accumulate rendered frames"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "render",
			Usage: "render the procedural test scene",
			Description: `
Render the procedural test scene headless. Frames are accumulated until the
frame variance drops below the error threshold or the frame limit is reached.

Options can be loaded from a yaml config file; flags override file values.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.StringFlag{
					Name:  "format, f",
					Value: "srgba",
					Usage: "color format (none, rgba8, srgba, rgba32f)",
				},
				cli.StringFlag{
					Name:  "channels",
					Value: "accum,variance,depth",
					Usage: "comma separated list of enabled channels",
				},
				cli.IntFlag{
					Name:  "frames",
					Value: 64,
					Usage: "max number of accumulated frames",
				},
				cli.Float64Flag{
					Name:  "threshold",
					Value: 0.01,
					Usage: "stop once the frame variance drops below this value",
				},
				cli.IntFlag{
					Name:  "tracers",
					Value: 1,
					Usage: "number of tracers",
				},
				cli.IntFlag{
					Name:  "spp",
					Value: 1,
					Usage: "samples per pixel for each pass",
				},
				cli.StringFlag{
					Name:  "config, c",
					Usage: "yaml render config file",
				},
				cli.StringFlag{
					Name:  "pipeline, p",
					Usage: "yaml image operation pipeline file",
				},
			},
			Action: cmd.RenderFrame,
		},
		{
			Name:      "pipeline",
			Usage:     "validate an image operation pipeline file",
			ArgsUsage: "pipeline.yaml",
			Action:    cmd.ValidatePipeline,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
