package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/routewise/assistant/internal/auth"
	"github.com/routewise/assistant/internal/model/chat"
)

var (
	// ErrUnauthorized maps any 401 response. Callers clear credentials and
	// send the user back to login.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCommentRequired rejects thumbs-down feedback without an explanation.
	ErrCommentRequired = errors.New("thumbs-down feedback requires a comment")
)

// Config carries the client's connection settings.
type Config struct {
	BaseURL   string
	UserEmail string
	// RequestTimeout bounds ordinary CRUD calls.
	RequestTimeout time.Duration
	// StreamTimeout bounds the chat-send call. A streamed answer takes far
	// longer than a CRUD request, so this is a separate, extended value.
	StreamTimeout time.Duration
}

// Client talks to the assistant backend REST API.
type Client struct {
	baseURL   string
	userEmail string
	creds     *auth.Store
	http      *http.Client
	streaming *http.Client
}

// NewClient builds a client around the given credential store.
func NewClient(cfg Config, creds *auth.Store) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userEmail: cfg.UserEmail,
		creds:     creds,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		streaming: &http.Client{Timeout: cfg.StreamTimeout},
	}
}

// Login exchanges credentials for a bearer token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", in, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return errors.New("login response carried no token")
	}
	return c.creds.SetToken(out.Token)
}

// History fetches the ordered durable messages of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out []wireMessage
	path := "/api/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(out))
	for _, w := range out {
		messages = append(messages, w.toModel())
	}
	return messages, nil
}

// Conversations fetches the sidebar summaries.
func (c *Client) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	var out []chat.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation registers a new conversation and returns its durable id.
func (c *Client) CreateConversation(ctx context.Context, title, folderID string) (string, error) {
	in := map[string]string{"title": title}
	if folderID != "" {
		in["folder_id"] = folderID
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", in, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("create conversation response carried no id")
	}
	return out.ID, nil
}

// StoredFile describes an uploaded attachment.
type StoredFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// UploadFile stores an attachment ahead of a chat send.
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, description string) (StoredFile, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return StoredFile{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return StoredFile{}, fmt.Errorf("copy upload content: %w", err)
	}
	if description != "" {
		if err := writer.WriteField("description", description); err != nil {
			return StoredFile{}, fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return StoredFile{}, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", &body)
	if err != nil {
		return StoredFile{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return StoredFile{}, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return StoredFile{}, err
	}

	var stored StoredFile
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return StoredFile{}, fmt.Errorf("decode upload response: %w", err)
	}
	return stored, nil
}

// Feedback sentiment values.
const (
	FeedbackThumbsUp   = "thumbs_up"
	FeedbackThumbsDown = "thumbs_down"
)

// Feedback records user sentiment on a completed assistant answer.
type Feedback struct {
	Type      string `json:"feedback_type"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Comment   string `json:"comment,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SubmitFeedback sends sentiment to the backend. Thumbs-down must carry a
// non-empty comment; that is enforced here so the prompt for one happens
// before any network call.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	if fb.Type == FeedbackThumbsDown && strings.TrimSpace(fb.Comment) == "" {
		return ErrCommentRequired
	}
	return c.do(ctx, http.MethodPost, "/api/feedback", fb, nil)
}

// OpenStream starts a chat send and returns the raw streaming body. The
// caller owns closing it. Uses the extended stream timeout.
func (c *Client) OpenStream(ctx context.Context, conversationID, message string) (io.ReadCloser, error) {
	payload := map[string]any{
		"message":         message,
		"conversation_id": conversationID,
	}
	if c.userEmail != "" {
		payload["user_info"] = map[string]string{"email": c.userEmail}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// do runs a JSON request/response cycle against the API.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// wireMessage is the backend's history representation.
type wireMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []string  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (w wireMessage) toModel() chat.Message {
	return chat.Message{
		ID:             chat.DurableID(w.ID),
		ConversationID: w.ConversationID,
		Role:           chat.Role(w.Role),
		Content:        w.Content,
		RichText:       chat.DetectRichText(w.Content),
		Sources:        w.Sources,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}
