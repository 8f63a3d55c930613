package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"stridecoach/internal/coach"
	"stridecoach/internal/database"
	"stridecoach/internal/middleware"
)

// ChatCoach answers free-form questions about a run
type ChatCoach interface {
	Chat(ctx context.Context, question string, m coach.RunMetrics) (string, error)
}

// ChatStore is the subset of the store the chat endpoint needs
type ChatStore interface {
	GetRun(runID int64, userID string) (*database.Run, error)
	GetConversation(userID string, runID int64) (*database.Conversation, error)
	CreateConversation(userID string, runID int64, messages []database.Message) error
	UpdateConversation(conversationID int64, messages []database.Message) error
}

// ChatHandler handles the coaching chat endpoint
type ChatHandler struct {
	store  ChatStore
	coach  ChatCoach
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(store ChatStore, chatCoach ChatCoach) *ChatHandler {
	return &ChatHandler{
		store:  store,
		coach:  chatCoach,
		logger: slog.Default(),
	}
}

// HandleChat answers a question about a run and appends both turns to
// the (user, run) conversation
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	var req struct {
		RunID    int64  `json:"run_id"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == 0 || req.Question == "" {
		writeError(w, http.StatusBadRequest, "Missing required run data or question")
		return
	}

	h.logger.Info("Processing chat", "user_id", userID, "run_id", req.RunID)

	run, err := h.store.GetRun(req.RunID, userID)
	if err != nil {
		writeDomainError(w, err, "Failed to process chat")
		return
	}

	answer, err := h.coach.Chat(r.Context(), req.Question, coach.MetricsForRun(run))
	if err != nil {
		h.logger.Error("Chat completion failed", "user_id", userID, "run_id", req.RunID, "error", err)
		writeDomainError(w, err, "Failed to process chat")
		return
	}

	now := time.Now().UTC()
	turns := []database.Message{
		{Role: "user", Content: req.Question, Timestamp: now},
		{Role: "assistant", Content: answer, Timestamp: now},
	}

	existing, err := h.store.GetConversation(userID, req.RunID)
	if err != nil {
		writeDomainError(w, err, "Failed to process chat")
		return
	}

	if existing != nil {
		err = h.store.UpdateConversation(existing.ID, append(existing.Messages, turns...))
	} else {
		err = h.store.CreateConversation(userID, req.RunID, turns)
	}
	if err != nil {
		h.logger.Error("Failed to persist conversation", "user_id", userID, "run_id", req.RunID, "error", err)
		writeDomainError(w, err, "Failed to process chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
