package main

import (
	"context"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/rlch/palm"
	"github.com/rlch/palm/report"
	"github.com/urfave/cli/v3"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Aliases:   []string{"t"},
		Usage:     "Translate models and print the generated schema",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			connectionFlag(),
			formatFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output events as JSON (same as --format json)",
			},
			&cli.BoolFlag{
				Name:  "dump",
				Usage: "dump the native instances of every model",
			},
			&cli.BoolFlag{
				Name:  "print",
				Usage: "print the generated schema statements",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "fail when a deferred field cannot be resolved",
			},
			&cli.IntFlag{
				Name:  "max-dropped",
				Usage: "abort after this many dropped fields (0: no limit)",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "approve partial regeneration without asking",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()

			ok, err := runTranslate(ctx, cmd, p, cmd.Root().Writer)
			if err != nil {
				return err
			}

			if !ok {
				return cli.Exit("", 1)
			}

			return nil
		},
	}
}

// runTranslate translates every engine of p, writing events, the summary
// and the schema to w. It reports whether every deferred field resolved.
func runTranslate(ctx context.Context, cmd *cli.Command, p *project, w io.Writer) (bool, error) {
	format := cmd.String("format")
	if cmd.Bool("json") {
		format = "json"
	}

	formatter := report.NewFormatter(format, w)
	summary := report.NewSummary()
	handler := report.Bind(summary,
		report.NewSummaryHandler(),
		report.NewStopOnDropHandler(int(cmd.Int("max-dropped"))),
		report.NewFormatHandler(formatter),
	)

	confirm, err := p.confirmation(cmd.Bool("yes"))
	if err != nil {
		return false, err
	}

	pipeline := p.pipeline(handler, confirm, cmd.Bool("strict"))

	results := make([]*palm.Result, 0, len(p.engines))

	for _, eng := range p.engines {
		res, err := pipeline.Translate(ctx, eng)
		if err != nil {
			return false, fmt.Errorf("connection %q: %w", eng.ConnectionName(), err)
		}

		results = append(results, res)
	}

	summary.Finish()

	err = formatter.Summary(summary)
	if err != nil {
		return false, err
	}

	if format != "json" && cmd.Bool("print") {
		for _, eng := range p.engines {
			printSchema(w, eng)
		}
	}

	if cmd.Bool("dump") {
		for _, res := range results {
			dumpResult(w, res)
		}
	}

	return summary.Ok(), nil
}

func printSchema(w io.Writer, eng palm.Engine) {
	stmts := ddl(eng)
	if len(stmts) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "\n-- %s (%s)\n", eng.ConnectionName(), eng.Name())

	for _, stmt := range stmts {
		_, _ = fmt.Fprintf(w, "%s;\n", stmt)
	}
}

func dumpResult(w io.Writer, res *palm.Result) {
	_, _ = fmt.Fprintf(w, "\n# %s (%s), %d passes\n", res.Connection, res.Engine, res.Passes)

	for _, im := range res.Models {
		_, _ = fmt.Fprintf(w, "## %s\n", im.ModelName)
		dumpConfig.Fdump(w, im.Instance())
	}
}
