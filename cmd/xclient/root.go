// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mellium.im/xclient/config"
	"mellium.im/xclient/store"
)

type app struct {
	configPath string
	dbPath     string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "xclient",
		Short:         "Inspect XMPP client state",
		Long:          "Inspect client configuration, persisted stream management state, and the endpoints of XMPP services.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.Level())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (TOML)")
	root.PersistentFlags().StringVarP(&a.dbPath, "db", "d", "", "Database path (default: [store] path or ~/.xclient/state.db)")

	root.AddCommand(
		newStateCmd(a),
		newConfigCmd(a),
		newLookupCmd(a),
	)
	return root
}

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "xclient").Logger()
}

func (a *app) storePath() string {
	if a.dbPath != "" {
		return a.dbPath
	}
	if a.cfg.Store.Path != "" {
		return a.cfg.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".xclient", "state.db")
}

func (a *app) openStore() (*store.SQLite, error) {
	path := a.storePath()
	a.logger.Debug().Str("path", path).Msg("opening state store")
	return store.OpenSQLite(path)
}
