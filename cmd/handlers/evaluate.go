package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"secbrief/internal/config"
)

// defaultProbes exercise each query class when no questions are given.
var defaultProbes = []string{
	"最近有哪些高危漏洞？",
	"What are the recent AI security papers?",
	"NVD 这周有什么值得关注的？",
}

// NewEvaluateCmd creates the retrieval quality check: it runs probe
// questions through the full QA path and prints answers with confidence.
func NewEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [question ...]",
		Short: "Run probe questions through the QA engine and report confidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			stats, err := st.GetStats()
			if err != nil {
				return fmt.Errorf("failed to load store stats: %w", err)
			}
			fmt.Printf("Articles: %d total, %d pushed, %d without content\n",
				stats.Total, stats.Pushed, stats.EmptyContent)

			kb, err := buildKnowledgeBase(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize knowledge base: %w", err)
			}
			if err := ensureIndex(cmd.Context(), kb, st); err != nil {
				return err
			}
			fmt.Printf("Indexed chunks: %d\n\n", kb.Count())

			engine, err := buildQAEngine(cfg, kb)
			if err != nil {
				return err
			}

			probes := args
			if len(probes) == 0 {
				probes = defaultProbes
			}

			for _, question := range probes {
				response := engine.ProcessQuery(cmd.Context(), question, "evaluate")
				fmt.Printf("Q: %s\n", question)
				fmt.Printf("   type=%s confidence=%.2f sources=%d\n",
					response.QueryType, response.Confidence, len(response.Sources))
				fmt.Printf("   %s\n\n", response.Answer)
			}
			return nil
		},
	}
}
