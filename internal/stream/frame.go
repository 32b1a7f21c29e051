package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame types emitted by the chat streaming endpoint. Types outside this set
// are skipped by the reconciler so the protocol can grow without breaking
// deployed clients.
const (
	TypeDelta          = "delta"
	TypeComplete       = "complete"
	TypeSourceDocument = "source_document"
	TypeError          = "error"
)

// Frame is one parsed data line from the streaming response. All fields
// except Type are optional on the wire.
type Frame struct {
	Type               string     `json:"type"`
	Content            string     `json:"content,omitempty"`
	Response           string     `json:"response,omitempty"`
	Source             SourceList `json:"source,omitempty"`
	UserMessageID      string     `json:"user_message_id,omitempty"`
	AssistantMessageID string     `json:"assistant_message_id,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// Terminal reports whether the frame ends the stream.
func (f Frame) Terminal() bool {
	return f.Type == TypeComplete || f.Type == TypeError
}

// ErrorText returns the human-readable text of an error frame. Older backends
// put it in the response field instead of error.
func (f Frame) ErrorText() string {
	if f.Error != "" {
		return f.Error
	}
	if f.Response != "" {
		return f.Response
	}
	return "stream failed"
}

// SourceList decodes the source field, which the backend emits either as a
// single string or as an array of strings.
type SourceList []string

func (s *SourceList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SourceList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("source is neither string nor array: %w", err)
	}
	*s = SourceList(many)
	return nil
}

// dataPrefix marks protocol data lines. Lines without it carry no payload.
const dataPrefix = "data: "

// ParseLine parses a single line of the streaming body. The second return
// value is false for lines that are not data frames (blank lines, comments,
// future protocol extensions); those are ignored rather than failed.
func ParseLine(line string) (Frame, bool, error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{}, false, nil
	}

	payload := strings.TrimPrefix(line, dataPrefix)
	var frame Frame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return Frame{}, false, fmt.Errorf("decode frame payload: %w", err)
	}
	return frame, true, nil
}
