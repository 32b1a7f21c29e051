package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/routewise/assistant/internal/stream"
)

func newTestServer(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	h := New("test-secret")
	h.deltaDelay = 0
	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)
	return h, server
}

func login(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"email":"dev@example.com","password":"pw"}`))
	if err != nil {
		t.Fatalf("login request err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		t.Fatal("empty token issued")
	}
	return payload.Token
}

func authedRequest(t *testing.T, method, url, token string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest err: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request err: %v", err)
	}
	return resp
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	h, server := newTestServer(t)

	token := login(t, server)
	email, err := h.tokens.verify(token)
	if err != nil {
		t.Fatalf("issued token failed verification: %v", err)
	}
	if email != "dev@example.com" {
		t.Fatalf("unexpected subject %q", email)
	}
}

func TestProtectedRoutesRejectMissingOrBadToken(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/conversations")
	if err != nil {
		t.Fatalf("request err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", resp.StatusCode)
	}

	resp = authedRequest(t, http.MethodGet, server.URL+"/api/conversations", "garbage", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", resp.StatusCode)
	}
}

func TestCreateAndListConversations(t *testing.T) {
	_, server := newTestServer(t)
	token := login(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/conversations", token, `{"title":"Route planning"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created conversation: %v", err)
	}
	if created.ID == "" || created.Title != "Route planning" {
		t.Fatalf("unexpected conversation %+v", created)
	}

	listResp := authedRequest(t, http.MethodGet, server.URL+"/api/conversations", token, "")
	defer listResp.Body.Close()
	var summaries []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != created.ID {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}

func TestChatStreamEndsWithCompleteFrame(t *testing.T) {
	_, server := newTestServer(t)
	token := login(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/conversations", token, `{"title":"t"}`)
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	streamResp := authedRequest(t, http.MethodPost, server.URL+"/api/chat/stream", token,
		`{"message":"hello there","conversation_id":"`+created.ID+`"}`)
	defer streamResp.Body.Close()
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", streamResp.StatusCode)
	}

	var frames []stream.Frame
	err := stream.Read(context.Background(), streamResp.Body, func(f stream.Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("stream.Read err: %v", err)
	}
	if len(frames) < 3 {
		t.Fatalf("expected deltas, sources, and complete, got %d frames", len(frames))
	}

	last := frames[len(frames)-1]
	if last.Type != stream.TypeComplete {
		t.Fatalf("expected complete last, got %s", last.Type)
	}
	if last.UserMessageID == "" || last.AssistantMessageID == "" {
		t.Fatalf("complete frame missing durable ids: %+v", last)
	}

	var rebuilt strings.Builder
	var userID, assistantID string
	for _, f := range frames[:len(frames)-1] {
		switch f.Type {
		case stream.TypeDelta:
			rebuilt.WriteString(f.Content)
		}
		if f.UserMessageID != "" {
			userID = f.UserMessageID
		}
		if f.AssistantMessageID != "" {
			assistantID = f.AssistantMessageID
		}
	}
	if rebuilt.String() != last.Response {
		t.Fatalf("deltas %q do not rebuild the complete response %q", rebuilt.String(), last.Response)
	}
	if userID != last.UserMessageID || assistantID != last.AssistantMessageID {
		t.Fatal("ids on delta frames disagree with the complete frame")
	}

	// The persisted transcript matches what was streamed.
	histResp := authedRequest(t, http.MethodGet, server.URL+"/api/conversations/"+created.ID+"/messages", token, "")
	defer histResp.Body.Close()
	var messages []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&messages); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected persisted user and assistant messages, got %+v", messages)
	}
	if messages[0].ID != userID || messages[1].ID != assistantID {
		t.Fatal("persisted ids differ from streamed ids")
	}
	if messages[1].Content != last.Response {
		t.Fatalf("persisted assistant content %q differs from streamed %q", messages[1].Content, last.Response)
	}
}

func TestChatStreamUnknownConversation(t *testing.T) {
	_, server := newTestServer(t)
	token := login(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/chat/stream", token,
		`{"message":"hi","conversation_id":"missing"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", resp.StatusCode)
	}
}

func TestFeedbackValidation(t *testing.T) {
	_, server := newTestServer(t)
	token := login(t, server)

	resp := authedRequest(t, http.MethodPost, server.URL+"/api/feedback", token,
		`{"feedback_type":"thumbs_down","question":"q","answer":"a"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for thumbs_down without comment, got %d", resp.StatusCode)
	}

	resp = authedRequest(t, http.MethodPost, server.URL+"/api/feedback", token,
		`{"feedback_type":"thumbs_up","question":"q","answer":"a"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for thumbs_up, got %d", resp.StatusCode)
	}
}

func TestUploadFile(t *testing.T) {
	_, server := newTestServer(t)
	token := login(t, server)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	part.Write([]byte("file body"))
	writer.WriteField("description", "meeting notes")
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/files", &buf)
	if err != nil {
		t.Fatalf("NewRequest err: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	var stored struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Size int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("decode stored file: %v", err)
	}
	if stored.ID == "" || stored.Name != "notes.txt" || stored.Size != 9 {
		t.Fatalf("unexpected stored file %+v", stored)
	}
}
