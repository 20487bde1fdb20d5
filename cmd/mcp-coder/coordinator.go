package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/coordinator"
)

func newCoordinatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Sweep repositories and dispatch eligible issues",
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newVSCodeClaudeCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var forceRefresh bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one dispatch sweep across all configured repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return coordinator.AsUser(err)
			}
			schema, err := loadSchema()
			if err != nil {
				return coordinator.AsUser(err)
			}
			cache, err := openCache()
			if err != nil {
				return err
			}
			loop := coordinator.New(cfg, schema, cache, coordinator.Options{
				LogLevel:     logLevel,
				ForceRefresh: forceRefresh,
			})
			_, err = loop.Run(cmd.Context())
			return err
		},
	}
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "refetch issues even when the cache is fresh")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var (
		interval     time.Duration
		metricsAddr  string
		forceRefresh bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sweep on an interval and when the config file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := loadSchema()
			if err != nil {
				return coordinator.AsUser(err)
			}
			cache, err := openCache()
			if err != nil {
				return err
			}
			err = coordinator.Watch(cmd.Context(), configPath, schema, cache, coordinator.WatchOptions{
				Options: coordinator.Options{
					LogLevel:     logLevel,
					ForceRefresh: forceRefresh,
				},
				Interval:    interval,
				MetricsAddr: metricsAddr,
				Logs:        logManager,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between sweeps")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "refetch issues on every sweep")
	return cmd
}
