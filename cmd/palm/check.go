package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rlch/palm"
	"github.com/rlch/palm/report"
	"github.com/urfave/cli/v3"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Validate models by translating them in strict mode",
		ArgsUsage: "[files or directories...]",
		Flags:     []cli.Flag{connectionFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			defer p.close()

			return runCheck(ctx, p, cmd.Root().Writer)
		},
	}
}

// runCheck translates every connection with strict deferral and denied
// confirmation, so no schema is regenerated against supplied instances.
func runCheck(ctx context.Context, p *project, w io.Writer) error {
	summary := report.NewSummary()
	pipeline := p.pipeline(report.Bind(summary, report.NewSummaryHandler()), palm.AutoDeny, true)

	for _, eng := range p.engines {
		res, err := pipeline.Translate(ctx, eng)
		if err != nil {
			return fmt.Errorf("connection %q: %w", eng.ConnectionName(), err)
		}

		_, _ = fmt.Fprintf(w, "ok %s (%s): %d models\n", eng.ConnectionName(), eng.Name(), len(res.Models))
	}

	return nil
}

func enginesCommand() *cli.Command {
	return &cli.Command{
		Name:  "engines",
		Usage: "List registered engines",
		Action: func(_ context.Context, cmd *cli.Command) error {
			for _, name := range palm.RegisteredEngines() {
				_, _ = fmt.Fprintln(cmd.Root().Writer, name)
			}

			return nil
		},
	}
}
