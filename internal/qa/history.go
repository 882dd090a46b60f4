package qa

import (
	"fmt"
	"strings"

	"secbrief/internal/core"
)

const (
	historyQueryCap  = 100
	historyAnswerCap = 150
)

// BuildHistoryQuery folds recent conversation turns into the retrieval
// query. Empty history returns the current query verbatim; otherwise the
// most recent maxTurns turns, oldest first, are summarized into a bounded
// context prefix.
func BuildHistoryQuery(current string, history []core.ConversationTurn, maxTurns int) string {
	if len(history) == 0 || maxTurns <= 0 {
		return current
	}

	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	parts := make([]string, 0, len(history))
	for _, turn := range history {
		parts = append(parts, fmt.Sprintf("%s -> %s",
			capRunes(turn.Query, historyQueryCap),
			capRunes(turn.Answer, historyAnswerCap)))
	}

	return fmt.Sprintf("[对话上下文: %s] %s", strings.Join(parts, "; "), current)
}

// capRunes bounds s to max runes, marking the cut.
func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
