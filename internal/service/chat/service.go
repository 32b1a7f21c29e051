package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/routewise/assistant/internal/event"
	"github.com/routewise/assistant/internal/model/chat"
	"github.com/routewise/assistant/internal/reconcile"
	"github.com/routewise/assistant/internal/service/api"
	"github.com/routewise/assistant/internal/stream"
)

// ErrNoConversation is returned when an operation needs a selected
// conversation and none is active.
var ErrNoConversation = errors.New("no conversation selected")

// titleLimit is the number of leading characters kept for an auto-created
// conversation title.
const titleLimit = 50

// TitleFromMessage derives a conversation title from the first message,
// truncated with an ellipsis marker when it runs long.
func TitleFromMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}

// Attachment is a staged upload that must succeed before the next message
// is sent.
type Attachment struct {
	Name        string
	Description string
	Content     io.Reader
}

// TurnResult summarizes a finished stream.
type TurnResult struct {
	Message chat.Message
	// Truncated marks a stream that ended without a terminal frame. The
	// content is whatever accumulated before the cut.
	Truncated bool
}

// Service orchestrates chat turns: optimistic inserts, the streaming read
// loop, id reconciliation, and the post-completion refresh. Starting a new
// turn cancels any stream still running (last writer wins), so two streams
// never mutate the transcript at once.
type Service struct {
	api   *api.Client
	creds credentialClearer
	bus   *event.Bus
	rec   *reconcile.Reconciler

	// acquireMu serializes stream handover so two concurrent sends cannot
	// both believe they own the active stream.
	acquireMu sync.Mutex

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	staged    *Attachment
	summaries []chat.ConversationSummary
	onDelta   func(fragment string)
}

type credentialClearer interface {
	Clear() error
}

// NewService wires the orchestrator to its collaborators.
func NewService(client *api.Client, creds credentialClearer, bus *event.Bus) *Service {
	return &Service{
		api:   client,
		creds: creds,
		bus:   bus,
		rec:   reconcile.New(""),
	}
}

// SetOnDelta registers a callback invoked with each content fragment as it
// arrives, for incremental display.
func (s *Service) SetOnDelta(fn func(fragment string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelta = fn
}

// Messages returns a copy of the active transcript.
func (s *Service) Messages() []chat.Message { return s.rec.Messages() }

// State returns the stream lifecycle state.
func (s *Service) State() reconcile.State { return s.rec.State() }

// ConversationID returns the active conversation id, empty when none.
func (s *Service) ConversationID() string { return s.rec.ConversationID() }

// Stage queues an attachment for the next send. A failed upload aborts that
// send entirely.
func (s *Service) Stage(att Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = &att
}

// Send submits a user message. With no conversation selected, one is
// auto-created and titled from the message. Blocks until the stream
// finishes or fails.
func (s *Service) Send(ctx context.Context, text string) (*TurnResult, error) {
	ctx, release := s.acquireStream(ctx)
	defer release()

	if err := s.uploadStaged(ctx); err != nil {
		return nil, err
	}

	if s.rec.ConversationID() == "" {
		id, err := s.api.CreateConversation(ctx, TitleFromMessage(text), "")
		if err != nil {
			return nil, s.fail(fmt.Errorf("create conversation: %w", err))
		}
		s.rec.SetConversationID(id)
		s.bus.Publish(event.Event{Kind: event.ConversationSelected, ID: id})
	}

	if err := s.rec.BeginSend(text); err != nil {
		return nil, err
	}
	return s.streamTurn(ctx, text)
}

// Regenerate re-streams the last user message after dropping the trailing
// assistant answer.
func (s *Service) Regenerate(ctx context.Context) (*TurnResult, error) {
	ctx, release := s.acquireStream(ctx)
	defer release()

	if s.rec.ConversationID() == "" {
		return nil, ErrNoConversation
	}
	content, err := s.rec.BeginRegenerate()
	if err != nil {
		return nil, err
	}
	return s.streamTurn(ctx, content)
}

// EditResend drops the trailing assistant answer and sends the edited
// content as a new user turn.
func (s *Service) EditResend(ctx context.Context, content string) (*TurnResult, error) {
	ctx, release := s.acquireStream(ctx)
	defer release()

	if s.rec.ConversationID() == "" {
		return nil, ErrNoConversation
	}
	if err := s.rec.BeginEdit(content); err != nil {
		return nil, err
	}
	return s.streamTurn(ctx, content)
}

// streamTurn opens the transport and pumps frames into the reconciler.
func (s *Service) streamTurn(ctx context.Context, text string) (*TurnResult, error) {
	body, err := s.api.OpenStream(ctx, s.rec.ConversationID(), text)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, s.fail(err)
		}
		// Transport never opened: the optimistic user turn goes away with
		// the placeholder.
		s.rec.PurgePending()
		return nil, err
	}
	defer body.Close()

	s.mu.Lock()
	onDelta := s.onDelta
	s.mu.Unlock()

	completed := false
	readErr := stream.Read(ctx, body, func(f stream.Frame) error {
		if err := s.rec.Apply(f); err != nil {
			return err
		}
		switch f.Type {
		case stream.TypeDelta:
			if onDelta != nil && f.Content != "" {
				onDelta(f.Content)
			}
		case stream.TypeComplete:
			completed = true
		}
		return nil
	})
	if readErr != nil {
		var streamErr *reconcile.StreamError
		if !errors.As(readErr, &streamErr) {
			// Mid-stream transport failure; error frames clean up in Apply.
			s.rec.FailStream()
		}
		return nil, readErr
	}

	if !completed {
		final, ok := s.rec.FinishTruncated()
		if !ok {
			return nil, errors.New("stream ended before any content arrived")
		}
		log.Printf("[chat] stream for conversation %s ended without a terminal frame", s.rec.ConversationID())
		return &TurnResult{Message: final, Truncated: true}, nil
	}

	final, _ := s.rec.LastAssistant()
	s.refresh(ctx)
	return &TurnResult{Message: final}, nil
}

// refresh reloads the transcript and sidebar summaries after a completed
// stream. Best effort: the user already has the final content locally, so
// failures are logged, never surfaced as stream failure.
func (s *Service) refresh(ctx context.Context) {
	id := s.rec.ConversationID()
	if history, err := s.api.History(ctx, id); err != nil {
		log.Printf("[chat] history refresh failed: %v", err)
	} else {
		s.rec.Hydrate(history)
	}

	if summaries, err := s.api.Conversations(ctx); err != nil {
		log.Printf("[chat] conversation list refresh failed: %v", err)
	} else {
		s.mu.Lock()
		s.summaries = summaries
		s.mu.Unlock()
		s.bus.Publish(event.Event{Kind: event.ConversationsRefreshed})
	}
}

func (s *Service) uploadStaged(ctx context.Context) error {
	s.mu.Lock()
	att := s.staged
	s.mu.Unlock()
	if att == nil {
		return nil
	}

	stored, err := s.api.UploadFile(ctx, att.Name, att.Content, att.Description)
	if err != nil {
		return s.fail(fmt.Errorf("attachment upload failed, message not sent: %w", err))
	}

	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
	log.Printf("[chat] attachment %s uploaded as %s", att.Name, stored.ID)
	return nil
}

// SelectConversation cancels any active stream and loads the history of the
// given conversation.
func (s *Service) SelectConversation(ctx context.Context, id string) error {
	ctx, release := s.acquireStream(ctx)
	defer release()

	history, err := s.api.History(ctx, id)
	if err != nil {
		return s.fail(err)
	}
	s.rec.SetConversationID(id)
	s.rec.Hydrate(history)
	s.bus.Publish(event.Event{Kind: event.ConversationSelected, ID: id})
	return nil
}

// NewChat cancels any active stream and resets to an empty transcript with
// no conversation selected.
func (s *Service) NewChat() {
	s.Interrupt()
	s.rec.SetConversationID("")
	s.rec.Hydrate(nil)
	s.bus.Publish(event.Event{Kind: event.NewChat})
}

// Conversations returns the cached sidebar summaries, fetching them when
// none are cached yet.
func (s *Service) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	s.mu.Lock()
	cached := s.summaries
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	summaries, err := s.api.Conversations(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	s.mu.Lock()
	s.summaries = summaries
	s.mu.Unlock()
	return summaries, nil
}

// SubmitFeedback forwards sentiment on a completed answer.
func (s *Service) SubmitFeedback(ctx context.Context, fb api.Feedback) error {
	if err := s.api.SubmitFeedback(ctx, fb); err != nil {
		return s.fail(err)
	}
	return nil
}

// Interrupt cancels the active stream, if any, and waits for its turn to
// wind down. The interrupted turn's caller sees a context error and the
// in-flight assistant placeholder is discarded.
func (s *Service) Interrupt() {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()
	s.interruptLocked()
}

// Close interrupts any stream and tears down the event bus.
func (s *Service) Close() {
	s.Interrupt()
	s.bus.Close()
}

// acquireStream hands stream ownership to the caller, cancelling and
// draining any previous stream first.
func (s *Service) acquireStream(ctx context.Context) (context.Context, func()) {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()
	s.interruptLocked()

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	release := func() {
		cancel()
		close(done)
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
	}
	return sctx, release
}

// interruptLocked requires acquireMu to be held.
func (s *Service) interruptLocked() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// fail routes errors through the unauthorized path: a 401 anywhere clears
// stored credentials, drops optimistic state, and announces the logout.
func (s *Service) fail(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		if cerr := s.creds.Clear(); cerr != nil {
			log.Printf("[chat] clearing credentials failed: %v", cerr)
		}
		s.rec.PurgePending()
		s.bus.Publish(event.Event{Kind: event.LoggedOut})
	}
	return err
}
