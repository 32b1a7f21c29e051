package stubserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routewise/assistant/internal/model/chat"
)

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// StoredMessage is the stub backend's durable message record, shaped like
// the real backend's history payload.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []string  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store keeps conversations and messages in memory, enough for local
// development against the client.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]chat.ConversationSummary
	order         []string
	messages      map[string][]StoredMessage
}

// NewStore bootstraps an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]chat.ConversationSummary),
		messages:      make(map[string][]StoredMessage),
	}
}

// CreateConversation registers a conversation and returns its summary.
func (s *Store) CreateConversation(title, folderID string) chat.ConversationSummary {
	summary := chat.ConversationSummary{
		ID:        uuid.NewString(),
		Title:     title,
		FolderID:  folderID,
		UpdatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.conversations[summary.ID] = summary
	s.order = append(s.order, summary.ID)
	s.messages[summary.ID] = make([]StoredMessage, 0, 16)
	s.mu.Unlock()

	return summary
}

// Summaries lists conversations in creation order.
func (s *Store) Summaries() []chat.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.ConversationSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id])
	}
	return out
}

// AppendMessage persists a message and returns it with its durable id.
func (s *Store) AppendMessage(conversationID, role, content string, sources []string) (StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.conversations[conversationID]
	if !ok {
		return StoredMessage{}, ErrConversationNotFound
	}

	now := time.Now().UTC()
	msg := StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Sources:        sources,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	summary.MessageCount++
	summary.UpdatedAt = now
	s.conversations[conversationID] = summary

	return msg, nil
}

// Messages returns stored messages for the conversation.
func (s *Store) Messages(conversationID string) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	copied := make([]StoredMessage, len(msgs))
	copy(copied, msgs)
	return copied, nil
}
