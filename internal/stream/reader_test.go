package stream

import (
	"context"
	"io"
	"strings"
	"testing"
)

// drip yields one byte per Read call, so frames and multi-byte characters
// arrive split across arbitrary read boundaries.
type drip struct {
	data []byte
	pos  int
}

func (d *drip) Read(p []byte) (int, error) {
	if d.pos >= len(d.data) {
		return 0, io.EOF
	}
	p[0] = d.data[d.pos]
	d.pos++
	return 1, nil
}

func collect(t *testing.T, ctx context.Context, r io.Reader) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	err := Read(ctx, r, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

func TestReadSequence(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"delta","content":"Hello "}`,
		`data: {"type":"delta","content":"world"}`,
		`data: {"type":"source_document","source":"doc.pdf"}`,
		`data: {"type":"complete","response":"Hello world"}`,
	}, "\n") + "\n"

	frames, err := collect(t, context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	if frames[3].Type != TypeComplete {
		t.Fatalf("expected complete last, got %s", frames[3].Type)
	}
}

func TestReadStopsAtTerminalFrame(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"delta","content":"a"}`,
		`data: {"type":"complete","response":"a"}`,
		`data: {"type":"delta","content":"late"}`,
	}, "\n") + "\n"

	frames, err := collect(t, context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected early return after complete, got %d frames", len(frames))
	}
}

func TestReadSkipsMalformedAndUnknownLines(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"delta","content":"ok"}`,
		`data: {broken`,
		`event: keepalive`,
		``,
		`data: {"type":"complete","response":"ok"}`,
	}, "\n") + "\n"

	frames, err := collect(t, context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected malformed lines skipped, got %d frames", len(frames))
	}
}

func TestReadReassemblesSplitMultiByteCharacters(t *testing.T) {
	body := "data: {\"type\":\"delta\",\"content\":\"héllo wörld 你好\"}\n" +
		"data: {\"type\":\"complete\",\"response\":\"héllo wörld 你好\"}\n"

	frames, err := collect(t, context.Background(), &drip{data: []byte(body)})
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Content != "héllo wörld 你好" {
		t.Fatalf("content corrupted across read boundaries: %q", frames[0].Content)
	}
}

func TestReadContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := `data: {"type":"delta","content":"a"}` + "\n"
	_, err := collect(t, ctx, strings.NewReader(body))
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadHandlerErrorStops(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"delta","content":"a"}`,
		`data: {"type":"delta","content":"b"}`,
	}, "\n") + "\n"

	calls := 0
	err := Read(context.Background(), strings.NewReader(body), func(Frame) error {
		calls++
		return io.ErrUnexpectedEOF
	})
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected reading to stop after handler error, got %d calls", calls)
	}
}

func TestReadSilentEndWithoutTerminalFrame(t *testing.T) {
	body := `data: {"type":"delta","content":"partial"}` + "\n"

	frames, err := collect(t, context.Background(), strings.NewReader(body))
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	if len(frames) != 1 || frames[0].Content != "partial" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}
