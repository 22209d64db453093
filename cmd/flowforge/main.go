// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command flowforge runs AI flows, sandbox validation and audits, either as
// an HTTP service or as one-shot commands.
package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traylinx/flowforge/internal/buildinfo"
	"github.com/traylinx/flowforge/internal/config"
	"github.com/traylinx/flowforge/internal/logging"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "config.yaml"

type rootOptions struct {
	configPath string
	debug      bool
}

func init() {
	logging.SetupBaseLogger()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "flowforge",
		Short:         "AI flow orchestration with sandbox validation and audits",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", DefaultConfigPath, "configuration file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newBootstrapCommand(opts),
		newRunFlowCommand(opts),
		newApplyCommand(opts),
		newAuditCommand(opts),
		newEnginesCommand(opts),
		newPageCommand(opts),
	)
	return root
}

// loadConfig reads .env from the working directory, then the YAML config.
// A missing config file yields defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	// Only the default path may be absent.
	cfg, err := config.LoadConfigOptional(o.configPath, o.configPath == DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Debug = true
	}
	if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsDir, cfg.Debug); err != nil {
		return nil, err
	}
	log.Debugf("flowforge %s", buildinfo.String())
	return cfg, nil
}
