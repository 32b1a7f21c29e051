package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
)

// maxLineBytes bounds a single frame line. Complete frames carry the full
// final response text, so the limit is generous.
const maxLineBytes = 4 * 1024 * 1024

// Handler receives each parsed frame in arrival order. Returning an error
// stops the read loop.
type Handler func(Frame) error

// Read consumes a streaming response body line by line and hands each data
// frame to handle, synchronously and in order. Buffering is line-scoped, so a
// multi-byte character split across transport reads is reassembled before any
// decoding happens.
//
// Read returns after the first terminal frame (remaining buffered bytes are
// discarded), at end of stream, when ctx is cancelled, or when handle returns
// an error. Malformed data lines are logged and skipped; they never abort the
// stream.
func Read(ctx context.Context, r io.Reader, handle Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, ok, err := ParseLine(scanner.Text())
		if err != nil {
			log.Printf("[stream] skipping malformed frame: %v", err)
			continue
		}
		if !ok {
			continue
		}

		if err := handle(frame); err != nil {
			return err
		}
		if frame.Terminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
