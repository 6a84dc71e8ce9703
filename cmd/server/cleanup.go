package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"document-portal/internal/bootstrap"
)

func cleanupCMD() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove all but the newest comparison sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if !cmd.Flags().Changed("keep") {
				keep = cfg.Storage.KeepCompareSessions
			}
			core := bootstrap.NewCore(cfg, log, nil)
			removed, err := core.Compare.CleanOldSessions(keep, "")
			if err != nil {
				return err
			}
			log.Info("comparison sessions cleaned", zap.Int("keep", keep), zap.Strings("removed", removed))
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d session(s)\n", len(removed))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of newest sessions to keep")
	return cmd
}
