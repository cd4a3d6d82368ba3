// Package client is the orbitctl side of the control API: plain HTTP
// dialed over the daemon's Unix domain socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pcardosol/orbit/internal/api"
	"github.com/pcardosol/orbit/internal/chat"
)

// Client talks to a running orbitd over its session socket.
type Client struct {
	http *http.Client
}

// New creates a client for the given socket path.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 60 * time.Second,
		},
	}
}

// Status returns the daemon's runtime state.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates the session with the backend.
func (c *Client) Login(ctx context.Context, username, password string) (chat.User, error) {
	var user chat.User
	req := api.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/v1/session/login", req, &user); err != nil {
		return chat.User{}, err
	}
	return user, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/session/logout", nil, nil)
}

// Contacts returns the conversation directory with presence flags.
func (c *Client) Contacts(ctx context.Context) ([]api.ContactView, error) {
	var resp api.ContactsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/contacts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// Presence returns the ids of currently-online users.
func (c *Client) Presence(ctx context.Context) ([]string, error) {
	var resp api.PresenceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/presence", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Online, nil
}

// Open makes userID the active conversation and returns its history.
func (c *Client) Open(ctx context.Context, userID string) (*api.OpenResponse, error) {
	var resp api.OpenResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat/"+userID+"/open", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close detaches the active conversation.
func (c *Client) Close(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/chat/"+userID+"/close", nil, nil)
}

// Send delivers a message. Returns nil when the daemon ignored an empty
// send.
func (c *Client) Send(ctx context.Context, userID, text string, attachments []api.AttachmentPayload) (*chat.Message, error) {
	req := api.SendRequest{Text: text, Attachments: attachments}
	body, status, err := c.doRaw(ctx, http.MethodPost, "/v1/chat/"+userID+"/send", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	var resp api.SendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	body, status, err := c.doRaw(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if out != nil && status != http.StatusNoContent {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, reqBody any) ([]byte, int, error) {
	var body io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	// The host is ignored; the transport always dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://orbitd"+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("is the daemon running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return nil, resp.StatusCode, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, resp.StatusCode, fmt.Errorf("daemon returned %s", resp.Status)
	}
	return data, resp.StatusCode, nil
}
