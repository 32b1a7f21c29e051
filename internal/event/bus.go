package event

import "sync"

// Kind identifies a cross-component signal.
type Kind int

const (
	// NewChat asks the conversation view to reset to an empty transcript.
	NewChat Kind = iota
	// ConversationSelected announces a sidebar selection.
	ConversationSelected
	// FolderSelected announces a folder selection.
	FolderSelected
	// ConversationsRefreshed announces updated sidebar summaries.
	ConversationsRefreshed
	// LoggedOut announces that credentials were cleared after a 401.
	LoggedOut
)

// Event is a signal exchanged between sibling UI regions.
type Event struct {
	Kind Kind
	// ID is the conversation or folder id when the kind carries one.
	ID string
}

// Bus is a publish/subscribe channel scoped to one conversation view. Unlike
// a process-global bus, Close tears down every subscription, so a handler
// cannot outlive the view that registered it.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The returned
// cancel func removes the subscription; calling it twice is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. Slow subscribers with a
// full buffer miss the event rather than block the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close tears down all subscriptions. Further publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
