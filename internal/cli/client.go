package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lootarena/internal/game"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsTransport reports whether err happened before the server answered, so
// the request may be replayed later.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Start(ctx context.Context, accessToken string, v game.Variant, requestID, mode string) (game.StartResult, error) {
	var out game.StartResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/"+string(v)+"/start", accessToken, map[string]any{
		"request_id": requestID,
		"mode":       mode,
	}, &out, requestID)
	return out, err
}

// ActionRequest is the body of an action submission.
type ActionRequest struct {
	SessionRef  string `json:"session_ref"`
	ActionSeq   int    `json:"action_seq"`
	InputAction string `json:"input_action"`
	LatencyMS   int64  `json:"latency_ms"`
	ClientTS    int64  `json:"client_ts"`
}

func (c *Client) Action(ctx context.Context, accessToken string, v game.Variant, in ActionRequest) (game.ActionResult, error) {
	var out game.ActionResult
	idem := fmt.Sprintf("%s:%d", in.SessionRef, in.ActionSeq)
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/"+string(v)+"/action", accessToken, in, &out, idem)
	return out, err
}

func (c *Client) Resolve(ctx context.Context, accessToken string, v game.Variant, sessionRef string) (game.ResolveResult, error) {
	var out game.ResolveResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/"+string(v)+"/resolve", accessToken, map[string]any{
		"session_ref": sessionRef,
	}, &out, "resolve:"+sessionRef)
	return out, err
}

func (c *Client) State(ctx context.Context, accessToken string, v game.Variant, sessionRef string) (game.StateResult, error) {
	path := "/v1/" + string(v) + "/state"
	if strings.TrimSpace(sessionRef) != "" {
		path += "?ref=" + url.QueryEscape(sessionRef)
	}
	var out game.StateResult
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Daily(ctx context.Context, accessToken string) (game.Daily, error) {
	var out struct {
		Daily game.Daily `json:"daily"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/daily", accessToken, nil, &out, "")
	return out.Daily, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
