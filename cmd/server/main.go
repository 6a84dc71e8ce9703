package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"document-portal/internal/config"
	"document-portal/internal/logger"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Document portal: ingestion, indexing, conversational retrieval and comparison",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				return os.Setenv("CONFIG_FILE", cfgPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default configs/config.toml)")

	serve := serveCMD()
	root.AddCommand(serve, tokenCMD(), cleanupCMD())
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logger.New(cfg.Log, cfg.App.Env == "prod")
	if err != nil {
		return nil, nil, fmt.Errorf("build logger failed: %w", err)
	}
	return cfg, log.With(zap.String("app", cfg.App.Name)), nil
}
