package chat

import "time"

// User is a peer identity as the backend serializes it.
type User struct {
	ID             string `json:"_id"`
	FullName       string `json:"full_name"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture"`
}

// Preview is the directory's one-line summary of a conversation.
type Preview struct {
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
	SentByMe bool      `json:"sentByMe"`
	Seen     bool      `json:"seen"`
}

// Contact is a directory entry: a user the current user may message,
// plus preview metadata and the count of messages not yet seen.
type Contact struct {
	User        User    `json:"user"`
	Preview     Preview `json:"preview"`
	UnseenCount int     `json:"unseenCount"`
}

// Message is a chat message. The server is the source of truth; the
// client only ever holds a display copy.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	ImageURLs  []string  `json:"image_urls,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Seen       bool      `json:"seen"`
}

// Attachment is a file attached to an outgoing message.
type Attachment struct {
	Name string
	Data []byte
}
