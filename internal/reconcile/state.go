package reconcile

// State is the stream lifecycle of the active conversation. Exactly one
// value holds at a time.
type State int

const (
	// StateIdle means no stream is active.
	StateIdle State = iota
	// StateSending means optimistic messages are inserted and the transport
	// connection is being opened.
	StateSending
	// StateStreaming means frames are arriving for the in-flight assistant
	// message.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}
