package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TenantPrefix namespaces agent identities on the wire so Clawncil agents
// cannot collide with other tenants of the same gateway.
const TenantPrefix = "clawncil-"

// Error is a non-success response from the gateway, carrying the response
// body for operator logs. Transport failures are returned as wrapped errors
// instead.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	BaseURL      string
	Token        string
	DefaultModel string
	HTTPClient   *http.Client
}

func New(baseURL, token, defaultModel string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		DefaultModel: defaultModel,
		HTTPClient:   http.DefaultClient,
	}
}

type SpawnRequest struct {
	AgentID      string
	Model        string
	SystemPrompt string
	Message      string
}

type SpawnResponse struct {
	Reply      string
	SessionKey string
}

// Spawn asks the gateway for a one-shot conversational turn. Each call is
// independent: no retries, no timeout beyond the HTTP client's own.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (SpawnResponse, error) {
	model := req.Model
	if model == "" {
		model = c.DefaultModel
	}
	body := map[string]string{
		"agentId":      TenantPrefix + req.AgentID,
		"model":        model,
		"systemPrompt": req.SystemPrompt,
		"message":      req.Message,
	}

	var payload struct {
		SessionKey string `json:"sessionKey"`
		Response   string `json:"response"`
		Text       string `json:"text"`
	}
	if err := c.post(ctx, "/v1/sessions/spawn", body, &payload); err != nil {
		return SpawnResponse{}, err
	}

	reply := payload.Response
	if reply == "" {
		reply = payload.Text
	}
	if reply == "" {
		reply = "No response from agent"
	}
	return SpawnResponse{Reply: reply, SessionKey: payload.SessionKey}, nil
}

// Send delivers a follow-up message to an existing gateway session.
func (c *Client) Send(ctx context.Context, sessionKey, message string) (string, error) {
	var payload struct {
		Response string `json:"response"`
	}
	path := "/v1/sessions/" + sessionKey + "/send"
	if err := c.post(ctx, path, map[string]string{"message": message}, &payload); err != nil {
		return "", err
	}
	return payload.Response, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
