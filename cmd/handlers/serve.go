package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"secbrief/internal/config"
	"secbrief/internal/eventserver"
	"secbrief/internal/logger"
	"secbrief/internal/messenger"
	"secbrief/internal/qa"
)

// NewServeCmd creates the QA webhook server command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			kb, err := buildKnowledgeBase(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize knowledge base: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := ensureIndex(ctx, kb, st); err != nil {
				logger.Warn("Initial index build failed, serving existing index", "error", err.Error())
			}

			engine, err := buildQAEngine(cfg, kb)
			if err != nil {
				return err
			}

			lark, err := messenger.NewClient(cfg.Messenger)
			if err != nil {
				return fmt.Errorf("failed to initialize messenger: %w", err)
			}

			limits := cfg.KnowledgeQA.RateLimit
			limiter := qa.NewRateLimiter(limits.RequestsPerMinute, limits.RequestsPerUserMinute, time.Minute)

			server := eventserver.New(cfg.KnowledgeQA.EventServer, engine, limiter, lark, st)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
