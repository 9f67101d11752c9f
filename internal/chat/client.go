package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/upstream"
)

type Request struct {
	Message          string `json:"message" binding:"required"`
	SessionID        string `json:"session_id"`
	Language         string `json:"language,omitempty"`
	CreateNewSession bool   `json:"create_new_session,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Response struct {
	Message     string    `json:"message"`
	IsComplete  bool      `json:"is_complete"`
	ChatHistory []Message `json:"chat_history"`
	SessionID   string    `json:"session_id,omitempty"`
}

// Client forwards chat turns to the external chatbot service. It keeps no
// session state of its own.
type Client struct {
	endpoint string
	language string
	client   *upstream.Client
}

func NewClient(endpoint, defaultLanguage string, client *upstream.Client) *Client {
	return &Client{endpoint: endpoint, language: defaultLanguage, client: client}
}

func (c *Client) Enabled() bool { return c != nil && c.endpoint != "" }

func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, apperrors.Invalid("message", "must not be empty")
	}
	if req.SessionID == "" || req.CreateNewSession {
		req.SessionID = uuid.NewString()
	}
	if req.Language == "" {
		req.Language = c.language
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	resp, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Upstream("chatbot", fmt.Errorf("decode: %w", err))
	}
	if out.SessionID == "" {
		out.SessionID = req.SessionID
	}
	return &out, nil
}
