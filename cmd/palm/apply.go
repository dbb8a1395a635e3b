package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rlch/palm/engines/neo4j"
	"github.com/rlch/palm/engines/sqlite"
	"github.com/rlch/palm/report"
	"github.com/urfave/cli/v3"
)

// ErrIncomplete is returned when a schema is applied with dropped fields.
var ErrIncomplete = errors.New("translation dropped fields")

type applier interface {
	Apply(ctx context.Context) error
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Translate models and create the schema on every connection",
		ArgsUsage: "[files or directories...]",
		Flags: []cli.Flag{
			connectionFlag(),
			formatFlag(),
			&cli.BoolFlag{
				Name:  "force",
				Usage: "apply even when deferred fields were dropped",
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

			return runApply(ctx, cmd, p, cmd.Root().Writer)
		},
	}
}

func runApply(ctx context.Context, cmd *cli.Command, p *project, w io.Writer) error {
	formatter := report.NewFormatter(cmd.String("format"), w)
	summary := report.NewSummary()
	handler := report.Bind(summary, report.NewSummaryHandler(), report.NewFormatHandler(formatter))

	confirm, err := p.confirmation(cmd.Bool("yes"))
	if err != nil {
		return err
	}

	pipeline := p.pipeline(handler, confirm, false)

	for _, eng := range p.engines {
		_, err := pipeline.Translate(ctx, eng)
		if err != nil {
			return fmt.Errorf("connection %q: %w", eng.ConnectionName(), err)
		}
	}

	summary.Finish()

	err = formatter.Summary(summary)
	if err != nil {
		return err
	}

	if !summary.Ok() && !cmd.Bool("force") {
		return fmt.Errorf("%w: %v (use --force to apply anyway)", ErrIncomplete, summary.DroppedFields())
	}

	for _, eng := range p.engines {
		a, ok := eng.(applier)
		if !ok {
			p.logger.Warn("engine cannot apply schemas, skipping")

			continue
		}

		err := a.Apply(ctx)
		if err != nil {
			return fmt.Errorf("applying %q: %w", eng.ConnectionName(), err)
		}

		_, _ = fmt.Fprintf(w, "applied %d statements to %s\n", len(ddl(eng)), eng.ConnectionName())
	}

	return nil
}

var (
	_ applier = (*sqlite.Engine)(nil)
	_ applier = (*neo4j.Engine)(nil)
)
