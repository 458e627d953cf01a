package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/internal/config"
	"github.com/devflow-ai/devflow/internal/store"
)

// newMigrateCommand applies devflow's schema (store.NewStore creates
// every table on open, so "migrating" is opening the store once) and
// seeds the repository bindings named in config, letting an operator
// provision a database ahead of the first `serve` run.
func newMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create devflow's database schema and seed configured repository bindings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if configPath != "" {
				paths = []string{filepath.Dir(configPath)}
			}
			cfg, err := config.Load(config.LoaderOptions{ConfigPaths: paths})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := seedRepoBindings(st, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s, %d repo binding(s) seeded\n", cfg.Store.Path, len(cfg.Repos))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a devflow.yaml config file (default: ./devflow.yaml)")
	return cmd
}
