// Package eventserver hosts the webhook endpoint that connects the chat
// platform to the QA engine. The request path validates, deduplicates and
// acknowledges fast; answering happens on a background goroutine.
package eventserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/logger"
	"secbrief/internal/qa"
)

const (
	dedupCacheSize = 10000
	dedupCacheTTL  = 300 * time.Second

	qaTaskTimeout = 2 * time.Minute
)

// QAProvider answers user questions.
type QAProvider interface {
	ProcessQuery(ctx context.Context, query, userID string) core.QAResponse
}

// Limiter throttles QA requests.
type Limiter interface {
	Allow(userID string) qa.LimitResult
}

// Replier delivers answers back to the chat.
type Replier interface {
	Reply(ctx context.Context, messageID, text string) error
}

// FeedbackStore records user ratings from interactive cards.
type FeedbackStore interface {
	SaveFeedback(userID, rating, query string) error
}

// Server is the webhook HTTP server.
type Server struct {
	cfg        config.EventServer
	router     *chi.Mux
	httpServer *http.Server
	engine     QAProvider
	limiter    Limiter
	replier    Replier
	feedback   FeedbackStore
	dedup      *expirable.LRU[string, struct{}]
}

// New builds the event server.
func New(cfg config.EventServer, engine QAProvider, limiter Limiter, replier Replier, feedback FeedbackStore) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		engine:   engine,
		limiter:  limiter,
		replier:  replier,
		feedback: feedback,
		dedup:    expirable.NewLRU[string, struct{}](dedupCacheSize, nil, dedupCacheTTL),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Post("/webhook/event", s.handleEvent)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("Event server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("event server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "secbrief",
		"role":    "knowledge-qa webhook",
	})
}

// inboundEvent covers both the v1 and schema-2.0 event envelopes.
type inboundEvent struct {
	Encrypt   string `json:"encrypt"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
	Type      string `json:"type"`
	UUID      string `json:"uuid"`
	Schema    string `json:"schema"`
	Header    struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event messageEvent `json:"event"`
}

// messageEvent is the payload of message and card-action events.
type messageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Mentions    []struct {
			Name string `json:"name"`
		} `json:"mentions"`
	} `json:"message"`
	Operator struct {
		OpenID string `json:"open_id"`
	} `json:"operator"`
	Action struct {
		Value struct {
			Rating string `json:"rating"`
			Query  string `json:"query"`
		} `json:"value"`
	} `json:"action"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	if s.cfg.EncryptKey != "" {
		if signature := r.Header.Get("X-Lark-Signature"); signature != "" {
			timestamp := r.Header.Get("X-Lark-Request-Timestamp")
			nonce := r.Header.Get("X-Lark-Request-Nonce")
			if !verifySignature(timestamp, nonce, s.cfg.EncryptKey, body, signature) {
				logger.Warn("Event signature mismatch", "remote", r.RemoteAddr)
				if s.cfg.StrictSignature {
					http.Error(w, "invalid signature", http.StatusUnauthorized)
					return
				}
			}
		}
	}

	var event inboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Encrypted payloads carry the real event inside the encrypt field.
	if event.Encrypt != "" && s.cfg.EncryptKey != "" {
		plaintext, err := decryptEvent(event.Encrypt, s.cfg.EncryptKey)
		if err != nil {
			logger.Warn("Failed to decrypt event", "error", err.Error())
			http.Error(w, "decrypt failed", http.StatusBadRequest)
			return
		}
		event = inboundEvent{}
		if err := json.Unmarshal(plaintext, &event); err != nil {
			http.Error(w, "invalid decrypted JSON", http.StatusBadRequest)
			return
		}
	}

	if event.Challenge != "" {
		if !s.tokenValid(event) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"challenge": event.Challenge})
		return
	}

	if !s.tokenValid(event) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if id := eventID(event); id != "" {
		if _, seen := s.dedup.Get(id); seen {
			writeJSON(w, http.StatusOK, map[string]any{"code": 0, "msg": "duplicate"})
			return
		}
		s.dedup.Add(id, struct{}{})
	}

	switch eventType(event) {
	case "im.message.receive_v1", "message":
		s.dispatchMessage(event)
	case "card.action.trigger", "interactive":
		s.recordFeedback(event)
		writeJSON(w, http.StatusOK, map[string]any{
			"toast": map[string]string{"type": "success", "content": "感谢你的反馈！"},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "msg": "ok"})
}

// tokenValid checks the verification token at the root or in the header.
func (s *Server) tokenValid(event inboundEvent) bool {
	if s.cfg.VerificationToken == "" {
		return true
	}
	return event.Token == s.cfg.VerificationToken || event.Header.Token == s.cfg.VerificationToken
}

// eventID picks the dedup key: the v2 event id, the v1 uuid, or the
// message id as a last resort.
func eventID(event inboundEvent) string {
	if event.Header.EventID != "" {
		return event.Header.EventID
	}
	if event.UUID != "" {
		return event.UUID
	}
	if event.Event.Message.MessageID != "" {
		return "msg_" + event.Event.Message.MessageID
	}
	return ""
}

func eventType(event inboundEvent) string {
	if event.Header.EventType != "" {
		return event.Header.EventType
	}
	return event.Type
}

// dispatchMessage decides whether a reply is wanted and, if so, offloads
// the expensive QA work so the platform gets its 200 immediately.
func (s *Server) dispatchMessage(event inboundEvent) {
	message := event.Event.Message

	// Respond in private chats and when the bot is mentioned.
	if message.ChatType != "p2p" && len(message.Mentions) == 0 {
		return
	}

	var mentionNames []string
	for _, mention := range message.Mentions {
		mentionNames = append(mentionNames, mention.Name)
	}

	query := extractMessageText(message.Content, mentionNames)
	if query == "" {
		return
	}

	userID := event.Event.Sender.SenderID.OpenID
	messageID := message.MessageID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), qaTaskTimeout)
		defer cancel()

		limit := s.limiter.Allow(userID)
		if !limit.Allowed {
			retry := int(limit.RetryAfter.Seconds()) + 1
			text := fmt.Sprintf("提问太频繁了，请 %d 秒后再试。 / Too many requests, please retry in %ds.", retry, retry)
			if err := s.replier.Reply(ctx, messageID, text); err != nil {
				logger.Warn("Failed to send rate-limit reply", "error", err.Error())
			}
			return
		}

		response := s.engine.ProcessQuery(ctx, query, userID)

		text := response.Answer
		if len(response.Sources) > 0 {
			text += "\n\n来源:"
			for _, source := range response.Sources {
				text += fmt.Sprintf("\n- %s %s", source.Title, source.URL)
			}
		}

		if err := s.replier.Reply(ctx, messageID, text); err != nil {
			logger.Error("Failed to send QA reply", err, "user", userID)
		}
	}()
}

func (s *Server) recordFeedback(event inboundEvent) {
	userID := event.Event.Operator.OpenID
	if userID == "" {
		userID = event.Event.Sender.SenderID.OpenID
	}
	value := event.Event.Action.Value
	if value.Rating == "" {
		return
	}
	if err := s.feedback.SaveFeedback(userID, value.Rating, value.Query); err != nil {
		logger.Warn("Failed to record feedback", "error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
