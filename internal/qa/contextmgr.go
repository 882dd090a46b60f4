package qa

import (
	"sync"
	"time"

	"secbrief/internal/core"
)

// ContextManager keeps bounded, TTL-governed conversation history per user.
type ContextManager struct {
	mu         sync.Mutex
	contexts   map[string]*core.ConversationContext
	maxHistory int
	ttl        time.Duration
	now        func() time.Time
}

// NewContextManager builds a manager. Non-positive maxHistory falls back
// to 5, non-positive ttl to 30 minutes.
func NewContextManager(maxHistory int, ttl time.Duration) *ContextManager {
	if maxHistory <= 0 {
		maxHistory = 5
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ContextManager{
		contexts:   make(map[string]*core.ConversationContext),
		maxHistory: maxHistory,
		ttl:        ttl,
		now:        time.Now,
	}
}

// AddTurn appends one (query, answer) pair to a user's history, dropping
// the oldest turn when over the cap.
func (m *ContextManager) AddTurn(userID string, turn core.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	conv, ok := m.contexts[userID]
	if !ok || now.Sub(conv.LastActive) > m.ttl {
		conv = &core.ConversationContext{UserID: userID}
		m.contexts[userID] = conv
	}

	conv.Turns = append(conv.Turns, turn)
	if len(conv.Turns) > m.maxHistory {
		conv.Turns = conv.Turns[len(conv.Turns)-m.maxHistory:]
	}
	conv.LastActive = now
}

// GetContext returns a user's recent turns in chronological order. An
// expired context is evicted and returns empty.
func (m *ContextManager) GetContext(userID string) []core.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.contexts[userID]
	if !ok {
		return nil
	}
	if m.now().Sub(conv.LastActive) > m.ttl {
		delete(m.contexts, userID)
		return nil
	}

	turns := make([]core.ConversationTurn, len(conv.Turns))
	copy(turns, conv.Turns)
	return turns
}

// CleanupExpired sweeps all expired contexts and reports how many were
// evicted.
func (m *ContextManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for userID, conv := range m.contexts {
		if now.Sub(conv.LastActive) > m.ttl {
			delete(m.contexts, userID)
			evicted++
		}
	}
	return evicted
}
