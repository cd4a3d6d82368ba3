package chat

// Buffer is the active conversation's ordered message history. Messages
// are append-only from the client's perspective and deduplicated by
// message id. Like Directory, it is owned and serialized by the Engine.
type Buffer struct {
	contactID string
	msgs      []Message
	ids       map[string]struct{}
}

// NewBuffer creates an empty buffer with no active conversation.
func NewBuffer() *Buffer {
	return &Buffer{ids: make(map[string]struct{})}
}

// Reset replaces the buffer with the fetched history for a contact.
func (b *Buffer) Reset(contactID string, msgs []Message) {
	b.contactID = contactID
	b.msgs = make([]Message, 0, len(msgs))
	b.ids = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := b.ids[m.ID]; dup {
			continue
		}
		b.ids[m.ID] = struct{}{}
		b.msgs = append(b.msgs, m)
	}
}

// Clear empties the buffer and detaches it from any conversation.
func (b *Buffer) Clear() {
	b.contactID = ""
	b.msgs = nil
	b.ids = make(map[string]struct{})
}

// Append adds a message to the buffer. Returns false if a message with
// the same id is already present (duplicate delivery is not re-appended).
func (b *Buffer) Append(m Message) bool {
	if _, dup := b.ids[m.ID]; dup {
		return false
	}
	b.ids[m.ID] = struct{}{}
	b.msgs = append(b.msgs, m)
	return true
}

// ContactID returns the id of the contact this buffer belongs to, or ""
// when no conversation is open.
func (b *Buffer) ContactID() string {
	return b.contactID
}

// Messages returns a copy of the buffered history in display order.
func (b *Buffer) Messages() []Message {
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.msgs)
}
