package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/routewise/assistant/pkg/utils"
)

// Handler serves the chat wire protocol for local development: JWT login,
// conversation CRUD, attachment upload, feedback, and the streaming chat
// endpoint. Replies are canned; the point is exercising the client.
type Handler struct {
	store  *Store
	tokens *tokenService
	// deltaDelay paces delta frames so streaming is visible; zero in tests.
	deltaDelay time.Duration
}

// New creates the stub handler with the given JWT signing secret.
func New(secret string) *Handler {
	return &Handler{
		store:      NewStore(),
		tokens:     newTokenService(secret, 24*time.Hour),
		deltaDelay: 40 * time.Millisecond,
	}
}

// Router wires all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleLogin)

		api.Group(func(authed chi.Router) {
			authed.Use(h.requireAuth)
			authed.Get("/conversations", h.handleListConversations)
			authed.Post("/conversations", h.handleCreateConversation)
			authed.Get("/conversations/{conversationID}/messages", h.handleMessages)
			authed.Post("/chat/stream", h.handleChatStream)
			authed.Post("/files", h.handleUploadFile)
			authed.Post("/feedback", h.handleFeedback)
		})
	})

	return r
}

// requireAuth validates the bearer token on protected routes.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := h.tokens.verify(token); err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLogin accepts any non-empty credentials and issues a token.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := h.tokens.issue(payload.Email)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Summaries())
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		FolderID string `json:"folder_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Title == "" {
		utils.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	summary := h.store.CreateConversation(payload.Title, payload.FolderID)
	utils.RespondJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	messages, err := h.store.Messages(conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":   uuid.NewString(),
		"name": header.Filename,
		"size": header.Size,
	})
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FeedbackType string `json:"feedback_type"`
		Question     string `json:"question"`
		Answer       string `json:"answer"`
		Comment      string `json:"comment"`
		SessionID    string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.FeedbackType != "thumbs_up" && payload.FeedbackType != "thumbs_down" {
		utils.RespondError(w, http.StatusBadRequest, "unknown feedback_type")
		return
	}
	if payload.FeedbackType == "thumbs_down" && strings.TrimSpace(payload.Comment) == "" {
		utils.RespondError(w, http.StatusBadRequest, "thumbs_down requires a comment")
		return
	}

	log.Printf("[stub] feedback %s recorded for session %s", payload.FeedbackType, payload.SessionID)
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// handleChatStream persists the user turn, then streams a canned assistant
// reply as delta frames followed by a source_document and a complete frame.
// The durable user and assistant ids ride on the first two delta frames, in
// that order, so the client exercises staggered id adoption.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload struct {
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
		UserInfo       struct {
			Email string `json:"email"`
		} `json:"user_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Message == "" || payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "message and conversation_id are required")
		return
	}

	userMsg, err := h.store.AppendMessage(payload.ConversationID, "user", payload.Message, nil)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
		} else {
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	reply := cannedReply(payload.Message)
	sources := []string{"handbook.pdf", "faq.md"}
	assistantMsg, err := h.store.AppendMessage(payload.ConversationID, "assistant", reply, sources)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)

	words := strings.SplitAfter(reply, " ")
	for i, word := range words {
		frame := map[string]any{"type": "delta", "content": word}
		switch i {
		case 0:
			frame["user_message_id"] = userMsg.ID
		case 1:
			frame["assistant_message_id"] = assistantMsg.ID
		}
		utils.SendSSEChunk(w, flusher, frame)

		if h.deltaDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(h.deltaDelay):
			}
		}
	}

	for _, src := range sources {
		utils.SendSSEChunk(w, flusher, map[string]any{
			"type":   "source_document",
			"source": src,
		})
	}

	utils.SendSSEChunk(w, flusher, map[string]any{
		"type":                 "complete",
		"response":             reply,
		"user_message_id":      userMsg.ID,
		"assistant_message_id": assistantMsg.ID,
	})

	log.Printf("[stub] completed stream for conversation=%s", payload.ConversationID)
}

func cannedReply(message string) string {
	return fmt.Sprintf("You asked: %q. This is a canned development reply with enough words to stream in pieces.", message)
}
