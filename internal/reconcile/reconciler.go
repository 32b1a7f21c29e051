package reconcile

import (
	"errors"
	"sync"
	"time"

	"github.com/routewise/assistant/internal/model/chat"
	"github.com/routewise/assistant/internal/stream"
)

var (
	// ErrNoUserMessage is returned by BeginRegenerate when the transcript has
	// no user turn to resend.
	ErrNoUserMessage = errors.New("no user message to regenerate")
	// ErrStreamActive is returned when a turn is started while another is
	// still in flight. Callers are expected to cancel the previous stream
	// first.
	ErrStreamActive = errors.New("another stream is active")
)

// StreamError carries the text of a server-signaled error frame.
type StreamError struct {
	Msg string
}

func (e *StreamError) Error() string { return "stream error: " + e.Msg }

// Reconciler owns the message list of the active conversation and applies
// stream frames to it. All mutations go through the event-application
// methods below; no other component touches the list.
type Reconciler struct {
	mu             sync.RWMutex
	conversationID string
	messages       []chat.Message

	state State
	// assistantID tracks the in-flight assistant message. It starts
	// temporary and is promoted in place once the backend assigns an id.
	assistantID chat.MessageID
}

// New creates a reconciler for the given conversation. An empty id means no
// conversation is selected yet.
func New(conversationID string) *Reconciler {
	return &Reconciler{conversationID: conversationID}
}

// ConversationID returns the active conversation id.
func (r *Reconciler) ConversationID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conversationID
}

// SetConversationID binds the reconciler to a conversation, typically right
// after auto-creation on first send.
func (r *Reconciler) SetConversationID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationID = id
}

// Hydrate replaces the transcript with the authoritative backend history.
func (r *Reconciler) Hydrate(history []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = make([]chat.Message, len(history))
	copy(r.messages, history)
}

// Messages returns a copy of the transcript.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make([]chat.Message, len(r.messages))
	copy(copied, r.messages)
	return copied
}

// State returns the current stream state.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// BeginSend inserts the optimistic user and assistant messages for a new
// turn and moves to Sending.
func (r *Reconciler) BeginSend(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return ErrStreamActive
	}
	r.messages = append(r.messages, chat.NewMessage(r.conversationID, chat.RoleUser, content))
	r.beginAssistantLocked()
	return nil
}

// BeginRegenerate drops a trailing assistant message, re-enters Sending and
// returns the most recent user message content for the resend. The user
// message itself is left untouched.
func (r *Reconciler) BeginRegenerate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return "", ErrStreamActive
	}
	r.trimTailAssistantLocked()
	i := r.lastUserIndexLocked()
	if i < 0 {
		return "", ErrNoUserMessage
	}
	content := r.messages[i].Content
	r.beginAssistantLocked()
	return content, nil
}

// BeginEdit drops a trailing assistant message and starts a new turn with
// the edited content as a fresh optimistic user message.
func (r *Reconciler) BeginEdit(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return ErrStreamActive
	}
	r.trimTailAssistantLocked()
	r.messages = append(r.messages, chat.NewMessage(r.conversationID, chat.RoleUser, content))
	r.beginAssistantLocked()
	return nil
}

// Apply routes one frame through the event-application rules. It returns a
// *StreamError for server-signaled error frames, after discarding the
// in-flight assistant message. Unknown frame types are ignored.
func (r *Reconciler) Apply(f stream.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch f.Type {
	case stream.TypeDelta:
		r.markStreamingLocked()
		r.adoptIDsLocked(f)
		if m := r.assistantLocked(); m != nil {
			m.Content += f.Content
			m.RichText = chat.DetectRichText(m.Content)
			m.UpdatedAt = time.Now().UTC()
		}

	case stream.TypeSourceDocument:
		r.markStreamingLocked()
		r.adoptIDsLocked(f)
		if m := r.assistantLocked(); m != nil {
			m.AddSources(f.Source)
			m.UpdatedAt = time.Now().UTC()
		}

	case stream.TypeComplete:
		r.adoptIDsLocked(f)
		if m := r.assistantLocked(); m != nil {
			// The backend's final formatted text is authoritative over the
			// locally accumulated deltas.
			if f.Response != "" {
				m.Content = f.Response
			}
			m.RichText = chat.DetectRichText(m.Content)
			m.AddSources(f.Source)
			m.UpdatedAt = time.Now().UTC()
		}
		r.finishLocked()

	case stream.TypeError:
		r.removeAssistantLocked()
		r.finishLocked()
		return &StreamError{Msg: f.ErrorText()}
	}

	return nil
}

// FailStream discards the in-flight assistant message after a transport
// failure so a half-written bubble never persists.
func (r *Reconciler) FailStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeAssistantLocked()
	r.finishLocked()
}

// PurgePending removes every message still carrying a temporary id. Used
// when the transport cannot be opened at all, so the user's optimistic turn
// disappears along with the empty assistant placeholder.
func (r *Reconciler) PurgePending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ID.Temporary() {
			continue
		}
		kept = append(kept, m)
	}
	r.messages = kept
	r.finishLocked()
}

// FinishTruncated finalizes a stream that ended without a terminal frame,
// keeping whatever content accumulated. Returns the finalized message.
func (r *Reconciler) FinishTruncated() (chat.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var final chat.Message
	ok := false
	if m := r.assistantLocked(); m != nil {
		m.UpdatedAt = time.Now().UTC()
		final, ok = *m, true
	}
	r.finishLocked()
	return final, ok
}

// LastAssistant returns the most recent assistant message, if any.
func (r *Reconciler) LastAssistant() (chat.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == chat.RoleAssistant {
			return r.messages[i], true
		}
	}
	return chat.Message{}, false
}

func (r *Reconciler) beginAssistantLocked() {
	m := chat.NewMessage(r.conversationID, chat.RoleAssistant, "")
	r.assistantID = m.ID
	r.messages = append(r.messages, m)
	r.state = StateSending
}

func (r *Reconciler) markStreamingLocked() {
	if r.state == StateSending {
		r.state = StateStreaming
	}
}

// adoptIDsLocked promotes temporary ids the first time the backend assigns
// durable ones. Both the in-flight assistant and the most recent user
// message are checked on every frame because the two ids may arrive in
// either order or in the same frame.
func (r *Reconciler) adoptIDsLocked(f stream.Frame) {
	if f.AssistantMessageID != "" && r.assistantID.Temporary() {
		if i := r.indexLocked(r.assistantID); i >= 0 {
			promoted := r.messages[i].ID.Promote(f.AssistantMessageID)
			r.messages[i].ID = promoted
			r.assistantID = promoted
		}
	}
	if f.UserMessageID != "" {
		if i := r.lastUserIndexLocked(); i >= 0 && r.messages[i].ID.Temporary() {
			r.messages[i].ID = r.messages[i].ID.Promote(f.UserMessageID)
		}
	}
}

func (r *Reconciler) assistantLocked() *chat.Message {
	if i := r.indexLocked(r.assistantID); i >= 0 {
		return &r.messages[i]
	}
	return nil
}

func (r *Reconciler) removeAssistantLocked() {
	i := r.indexLocked(r.assistantID)
	if i < 0 {
		return
	}
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
}

func (r *Reconciler) trimTailAssistantLocked() {
	n := len(r.messages)
	if n == 0 || r.messages[n-1].Role != chat.RoleAssistant {
		return
	}
	r.messages = r.messages[:n-1]
}

func (r *Reconciler) indexLocked(id chat.MessageID) int {
	if id.Zero() {
		return -1
	}
	for i := range r.messages {
		if r.messages[i].ID.Equal(id) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) lastUserIndexLocked() int {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == chat.RoleUser {
			return i
		}
	}
	return -1
}

func (r *Reconciler) finishLocked() {
	r.assistantID = chat.MessageID{}
	r.state = StateIdle
}
