package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"secbrief/internal/config"
)

// NewRunCmd creates the pipeline command: daily loop by default, a single
// run with --once.
func NewRunCmd() *cobra.Command {
	var once bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the aggregation pipeline (daily loop, or once with --once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			sched, err := buildScheduler(cfg, st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				return sched.RunOnce(ctx)
			}
			if err := sched.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	runCmd.Flags().BoolVar(&once, "once", false, "run one pipeline cycle and exit")
	return runCmd
}
