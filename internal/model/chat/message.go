package chat

import (
	"strings"
	"time"
)

// Role distinguishes the two sides of a conversation turn. Fixed at message
// creation and never changed afterwards.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Assistant messages grow in place
// while a response streams and are finalized on the terminal frame.
type Message struct {
	ID             MessageID
	ConversationID string
	Role           Role
	Content        string
	RichText       bool
	Sources        []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewMessage builds an optimistic message with a temporary id.
func NewMessage(conversationID string, role Role, content string) Message {
	now := time.Now().UTC()
	return Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		RichText:       DetectRichText(content),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddSources appends the given citations, dropping values already present.
// First-occurrence order is preserved.
func (m *Message) AddSources(sources []string) {
	for _, src := range sources {
		if m.hasSource(src) {
			continue
		}
		m.Sources = append(m.Sources, src)
	}
}

func (m *Message) hasSource(src string) bool {
	for _, existing := range m.Sources {
		if existing == src {
			return true
		}
	}
	return false
}

// DetectRichText reports whether content looks like markup. The backend emits
// HTML fragments for formatted answers; the presence of both angle brackets is
// the agreed heuristic, not a full parse.
func DetectRichText(content string) bool {
	return strings.Contains(content, "<") && strings.Contains(content, ">")
}
