package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/achilleasa/polaris-accum/imageop"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Validate an image operation pipeline file and list its stages.
func ValidatePipeline(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing pipeline file argument")
	}

	reg := imageop.DefaultRegistry()
	pipeline, descriptors, err := decodePipelineFile(reg, ctx.Args().First())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Operation", "Kind", "Params"})
	for idx, d := range descriptors {
		kind, _ := reg.Kind(d.Name)
		table.Append([]string{
			fmt.Sprintf("%d", idx),
			d.Name,
			kind.String(),
			formatParams(d.Params),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", fmt.Sprintf("%d tile, %d frame", len(pipeline.TileOps()), len(pipeline.FrameOps()))})

	table.Render()
	logger.Noticef("pipeline is valid\n%s", buf.String())
	return nil
}

func decodePipelineFile(reg *imageop.Registry, path string) (*imageop.Pipeline, []imageop.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	return reg.Decode(f)
}

func formatParams(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for idx, name := range names {
		pairs[idx] = fmt.Sprintf("%s=%g", name, params[name])
	}
	return strings.Join(pairs, ", ")
}
