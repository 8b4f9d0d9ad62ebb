package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"marginalia/internal/config"
	"marginalia/internal/logging"
)

var version = "dev"

type globals struct {
	ConfigPath string
	LogLevel   string
	LogFile    string

	cfg       config.Config
	logCloser func()
}

func main() {
	g := &globals{logCloser: func() {}}

	app := &cli.Command{
		Name:    "marginalia",
		Usage:   "Comment on passages of rich-text documents",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a YAML config file",
				Sources:     cli.EnvVars("MARGINALIA_CONFIG"),
				Value:       "marginalia.yaml",
				Destination: &g.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error); overrides the config file",
				Destination: &g.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "write logs to this file instead of stdout",
				Destination: &g.LogFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(g.ConfigPath)
			if err != nil {
				return ctx, err
			}
			if g.LogLevel != "" {
				cfg.LogLevel = g.LogLevel
			}
			if g.LogFile != "" {
				cfg.LogFile = g.LogFile
			}
			logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			zerolog.DefaultContextLogger = &log.Logger
			g.cfg = cfg
			g.logCloser = closer
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			g.logCloser()
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(g),
			migrateCommand(g),
			renderCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("marginalia exited with error")
		os.Exit(1)
	}
}
