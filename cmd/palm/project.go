package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rlch/palm"
	"github.com/rlch/palm/engines/neo4j"
	"github.com/rlch/palm/engines/sqlite"
	"github.com/rlch/palm/report"
	"github.com/rlch/palm/schema"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// Command errors.
var (
	ErrNoModels          = errors.New("no models found")
	ErrNoConnections     = errors.New("no connections configured")
	ErrUnknownConnection = errors.New("unknown connection")
)

// project is a loaded configuration with its catalog and engines.
type project struct {
	cfg     *palm.Config
	catalog *palm.Catalog
	engines []palm.Engine
	logger  *zap.Logger
}

func connectionFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "connection",
		Usage: "translate only these connections (default: all)",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "event output: dots, verbose, table or json",
		Value:   "dots",
	}
}

// loadProject reads the config and model sources named by cmd. Positional
// arguments replace the configured model paths.
func loadProject(cmd *cli.Command) (*project, error) {
	logger, err := newLogger(cmd.Bool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	var cfg *palm.Config

	if path := cmd.String("config"); path != "" {
		cfg, err = palm.LoadConfigFile(path)
	} else {
		cfg, err = palm.LoadConfig(".")
	}

	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.ModelPaths()
	}

	catalog, err := schema.NewLoader().LoadAll(paths...)
	if err != nil {
		return nil, err
	}

	err = catalog.Init()
	if err != nil {
		return nil, err
	}

	if len(catalog.Models()) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoModels, strings.Join(paths, ", "))
	}

	engines, err := cfg.Engines()
	if err != nil {
		return nil, err
	}

	engines, err = selectEngines(engines, cmd.StringSlice("connection"))
	if err != nil {
		return nil, err
	}

	for _, eng := range engines {
		if ls, ok := eng.(palm.LoggerSetter); ok {
			ls.SetLogger(logger.Named("engine"))
		}
	}

	logger.Debug("project loaded",
		zap.Int("models", len(catalog.Models())),
		zap.Int("connections", len(engines)),
		zap.Strings("paths", paths))

	return &project{cfg: cfg, catalog: catalog, engines: engines, logger: logger}, nil
}

func selectEngines(engines []palm.Engine, only []string) ([]palm.Engine, error) {
	if len(engines) == 0 {
		return nil, ErrNoConnections
	}

	if len(only) == 0 {
		return engines, nil
	}

	var out []palm.Engine

	for _, name := range only {
		i := slices.IndexFunc(engines, func(e palm.Engine) bool { return e.ConnectionName() == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
		}

		out = append(out, engines[i])
	}

	return out, nil
}

// confirmation resolves the configured confirmation mode. "ask" prompts on
// a terminal and denies otherwise.
func (p *project) confirmation(yes bool) (palm.ConfirmationPolicy, error) { //nolint:ireturn
	mode := p.cfg.Translate.Confirm
	if yes {
		mode = palm.ConfirmApprove
	}

	if mode != palm.ConfirmAsk {
		return palm.ConfirmationFor(mode)
	}

	if !report.IsTerminal(os.Stdin) {
		p.logger.Warn("confirm is \"ask\" but stdin is not a terminal, denying")

		return palm.AutoDeny, nil
	}

	return report.NewPrompt(os.Stdin, os.Stderr), nil
}

// pipeline builds a pipeline reporting through handler.
func (p *project) pipeline(handler palm.EventHandler, confirm palm.ConfirmationPolicy, strict bool) *palm.Pipeline {
	opts := p.cfg.Translate.PipelineOptions()
	opts = append(opts,
		palm.WithLogger(p.logger),
		palm.WithHandler(handler),
		palm.WithConfirmation(confirm),
	)

	if strict {
		opts = append(opts, palm.WithStrictDeferred(true))
	}

	return palm.NewPipeline(p.catalog, opts...)
}

func (p *project) close() {
	for _, eng := range p.engines {
		if c, ok := eng.(io.Closer); ok {
			_ = c.Close()
		}
	}

	_ = p.logger.Sync()
}

// ddl returns the schema statements an engine would apply.
func ddl(eng palm.Engine) []string {
	switch e := eng.(type) {
	case *sqlite.Engine:
		if s := e.Schema(); s != nil {
			return s.Statements()
		}
	case *neo4j.Engine:
		return e.Statements()
	}

	return nil
}
