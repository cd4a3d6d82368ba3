package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pcardosol/orbit/internal/chat"
)

// userEnvelope is how the auth endpoints wrap the user object.
type userEnvelope struct {
	User chat.User `json:"user"`
}

// Login authenticates with username and password. The session cookie the
// server sets is captured by the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) (chat.User, error) {
	var resp userEnvelope
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return chat.User{}, err
	}
	if resp.User.ID == "" {
		return chat.User{}, fmt.Errorf("login: server returned no user identity")
	}
	return resp.User, nil
}

// Logout invalidates the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Me returns the authenticated user, validating the stored cookie.
func (c *Client) Me(ctx context.Context) (chat.User, error) {
	var resp userEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return chat.User{}, err
	}
	if resp.User.ID == "" {
		return chat.User{}, fmt.Errorf("me: server returned no user identity")
	}
	return resp.User, nil
}
