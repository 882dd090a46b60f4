package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"secbrief/internal/config"
)

// NewCheckpointStatusCmd creates the checkpoint inspection command.
func NewCheckpointStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint-status",
		Short: "Show the persisted pipeline resume state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newCheckpointer(config.Get())
			if err != nil {
				return fmt.Errorf("failed to open checkpointer: %w", err)
			}

			status, err := cp.LoadStatus()
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}

			if status.Fetch == nil && status.Process == nil {
				fmt.Println("No checkpoint present.")
				return nil
			}

			if cpt := status.Fetch; cpt != nil {
				fmt.Printf("Fetch checkpoint %s (phase %s, updated %s)\n",
					cpt.ID, cpt.Phase, cpt.UpdatedAt.Format("2006-01-02 15:04:05"))
				fmt.Printf("  feeds: %d/%d complete, %d failed\n",
					len(cpt.CompletedFeeds), cpt.TotalFeeds, len(cpt.FailedFeeds))
			}
			if cpt := status.Process; cpt != nil {
				fmt.Printf("Process checkpoint %s (phase %s, updated %s)\n",
					cpt.ID, cpt.Phase, cpt.UpdatedAt.Format("2006-01-02 15:04:05"))
				fmt.Printf("  articles: %d/%d processed, %d failed\n",
					len(cpt.ProcessedURLs), cpt.TotalArticles, len(cpt.FailedURLs))
			}
			return nil
		},
	}
}

// NewClearCheckpointCmd creates the checkpoint removal command.
func NewClearCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-checkpoint",
		Short: "Delete the persisted pipeline resume state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newCheckpointer(config.Get())
			if err != nil {
				return fmt.Errorf("failed to open checkpointer: %w", err)
			}
			if err := cp.Clear(); err != nil {
				return fmt.Errorf("failed to clear checkpoint: %w", err)
			}
			fmt.Println("Checkpoint cleared.")
			return nil
		},
	}
}
