package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/app"
	"github.com/kailas-cloud/memex/internal/config"
	logpkg "github.com/kailas-cloud/memex/internal/logger"
)

// NewRootCmd builds the memex command tree.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "memex",
		Short:         "Self-hosted memory service for LLM applications",
		Long:          `Ingests documents asynchronously, indexes them as vectors and answers questions over them.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("env", config.GetEnv(), "Environment name, selects config/<env>.yaml")
	rootCmd.PersistentFlags().String("config", "", "Explicit config file path (overrides --env)")

	rootCmd.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewTasksCmd(),
		NewCollectionsCmd(),
	)
	return rootCmd
}

// loadConfig resolves the configuration named by the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	env, _ := cmd.Flags().GetString("env")
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return config.Config{}, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, env, nil
}

// openApp loads configuration, builds the logger and wires every backend.
// The caller closes the app and syncs the logger.
func openApp(ctx context.Context, cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	cfg, env, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
