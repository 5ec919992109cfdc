// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/poiesic/strata"
	"github.com/poiesic/strata/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "strata",
		Usage: "Document processing pipeline with Bronze, Silver and Gold stages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				EnvVars: []string{"STRATA_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override logging format (text, json)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			watchCommand(),
			drainCommand(),
			statusCommand(),
			retryCommand(),
			searchCommand(),
			backfillCommand(),
			categoryCommand(),
		},
	}
}

const configKey = "config"

// setup loads the configuration and installs the slog handler.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := c.String("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.SetDefault(slog.New(cfg.Logging.Handler(os.Stderr)))

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.NewDefaultConfig()
}

// openSystem opens every component for a command. Callers must Close it.
func openSystem(ctx context.Context, c *cli.Context) (*strata.System, error) {
	sys, err := strata.Open(ctx, loadedConfig(c), strata.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open strata: %w", err)
	}
	return sys, nil
}
