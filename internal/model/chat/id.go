package chat

import "github.com/google/uuid"

// MessageID identifies a message either provisionally or durably. A message
// is created with a client-generated temporary id and promoted to the
// backend-assigned durable id at most once; promotion never runs twice.
type MessageID struct {
	value   string
	durable bool
}

// NewTempID mints a temporary id for an optimistically inserted message.
func NewTempID() MessageID {
	return MessageID{value: uuid.NewString()}
}

// DurableID wraps an id already persisted by the backend.
func DurableID(id string) MessageID {
	return MessageID{value: id, durable: true}
}

// Value returns the raw identifier string.
func (id MessageID) Value() string { return id.value }

// Durable reports whether the backend has assigned this id.
func (id MessageID) Durable() bool { return id.durable }

// Temporary reports whether the id is still a client-side placeholder.
func (id MessageID) Temporary() bool { return !id.durable && id.value != "" }

// Zero reports whether the id is unset.
func (id MessageID) Zero() bool { return id.value == "" }

// Promote returns the durable form of the id. Promoting an already durable
// id is a no-op so replayed server ids cannot rewrite it.
func (id MessageID) Promote(durable string) MessageID {
	if id.durable || durable == "" {
		return id
	}
	return MessageID{value: durable, durable: true}
}

// Equal compares ids by value and durability.
func (id MessageID) Equal(other MessageID) bool {
	return id.value == other.value && id.durable == other.durable
}
