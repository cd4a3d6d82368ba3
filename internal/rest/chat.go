package rest

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/pcardosol/orbit/internal/chat"
)

// FollowingContacts returns the users the account can message, each with
// its latest-message preview.
func (c *Client) FollowingContacts(ctx context.Context) ([]chat.Contact, error) {
	var resp struct {
		Chats []chat.Contact `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/getFollowingUsers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// Conversation returns the peer's profile and the full message history
// with that user.
func (c *Client) Conversation(ctx context.Context, userID string) (chat.User, []chat.Message, error) {
	var resp struct {
		ChatWith chat.User      `json:"chatWith"`
		Messages []chat.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/getChat/"+userID, nil, &resp); err != nil {
		return chat.User{}, nil, err
	}
	return resp.ChatWith, resp.Messages, nil
}

// SendMessage posts a message as a multipart form: a text field, any
// attachments as file parts, and a client-generated id the server can use
// to deduplicate retried sends. Returns the server-confirmed message.
func (c *Client) SendMessage(ctx context.Context, userID, text string, attachments []chat.Attachment) (*chat.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("write text field: %w", err)
	}
	if err := w.WriteField("client_msg_id", uuid.NewString()); err != nil {
		return nil, fmt.Errorf("write client_msg_id field: %w", err)
	}
	for _, att := range attachments {
		part, err := w.CreateFormFile("files", att.Name)
		if err != nil {
			return nil, fmt.Errorf("create file part %q: %w", att.Name, err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("write file part %q: %w", att.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var resp struct {
		Message chat.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/sendMsg/"+userID, &buf, w.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// MarkSeen acknowledges a single message as seen.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/chat/mark/"+messageID, nil, nil)
}
