package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cgast/dispatchd/pkg/command"
	"github.com/cgast/dispatchd/pkg/sse"
)

// Client calls a dispatchd server on behalf of a single principal.
type Client struct {
	baseURL    string
	principal  string
	httpClient *http.Client
}

// New creates a client for the server at baseURL acting as principal.
func New(baseURL, principal string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		principal:  principal,
		httpClient: &http.Client{},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Principal returns the identity requests are made as.
func (c *Client) Principal() string { return c.principal }

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ExecutionError reports a command stream that ended with a terminal
// error frame. The command was accepted and ran; the failure happened
// during execution.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// CommandInfo describes one command from the discovery listing.
type CommandInfo struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Parameters    []command.Field `json:"parameters"`
	AllowedUsers  []string        `json:"allowed_users"`
	AllowedGroups []string        `json:"allowed_groups"`
}

// Execute runs a command on the server and streams its updates. onEvent,
// when non-nil, is called for every frame in the order it arrives. The
// returned event is the last frame received; a terminal error frame is
// also surfaced as an *ExecutionError.
func (c *Client) Execute(ctx context.Context, name string, params map[string]any, onEvent func(command.Event)) (command.Event, error) {
	body, err := json.Marshal(command.Request{Principal: c.principal, Command: name, Params: params})
	if err != nil {
		return command.Event{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return command.Event{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return command.Event{}, fmt.Errorf("execute %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return command.Event{}, c.apiError(resp)
	}

	dec := sse.NewDecoder(resp.Body)
	var last command.Event
	seen := false
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return last, fmt.Errorf("read stream: %w", err)
		}
		var ev command.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			return last, fmt.Errorf("decode frame: %w", err)
		}
		last = ev
		seen = true
		if onEvent != nil {
			onEvent(ev)
		}
	}

	if !seen || !last.Terminal() {
		return last, fmt.Errorf("stream for %s ended without a terminal event", name)
	}
	if last.Status == command.StatusError {
		return last, &ExecutionError{Message: last.Message}
	}
	return last, nil
}

// Commands fetches the discovery listing.
func (c *Client) Commands(ctx context.Context) ([]CommandInfo, error) {
	var out struct {
		Commands []CommandInfo `json:"commands"`
	}
	if err := c.getJSON(ctx, "/commands", &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// Groups returns the groups the given principal belongs to.
func (c *Client) Groups(ctx context.Context, principal string) ([]string, error) {
	var out struct {
		Principal string   `json:"principal"`
		Groups    []string `json:"groups"`
	}
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(principal)+"/groups", &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// AddToGroup adds principal to group on the server.
func (c *Client) AddToGroup(ctx context.Context, principal, group string) error {
	return c.send(ctx, http.MethodPost, c.groupPath(principal, group))
}

// RemoveFromGroup removes principal from group on the server.
func (c *Client) RemoveFromGroup(ctx context.Context, principal, group string) error {
	return c.send(ctx, http.MethodDelete, c.groupPath(principal, group))
}

func (c *Client) groupPath(principal, group string) string {
	return "/users/" + url.PathEscape(principal) + "/groups/" + url.PathEscape(group)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// apiError extracts the error payload from a non-2xx response.
func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
