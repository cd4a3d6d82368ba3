package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pcardosol/orbit/internal/bus"
	"go.uber.org/zap"
)

// ErrSuperseded is returned by OpenConversation when another conversation
// was selected before this one's history fetch resolved. The late result
// is discarded instead of overwriting the newer selection.
var ErrSuperseded = errors.New("conversation selection superseded")

// Backend is the slice of the REST contract the engine consumes.
type Backend interface {
	FollowingContacts(ctx context.Context) ([]Contact, error)
	Conversation(ctx context.Context, userID string) (User, []Message, error)
	SendMessage(ctx context.Context, userID, text string, attachments []Attachment) (*Message, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// Engine owns the conversation directory and the active conversation
// buffer. It subscribes to "gateway." events on the bus and routes every
// pushed message through Route, applying the resulting transition under a
// single lock so state mutations are serialized.
type Engine struct {
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc

	mu       sync.Mutex
	dir      *Directory
	buf      *Buffer
	activeID string
	gen      uint64
}

// NewEngine creates a new chat engine.
func NewEngine(backend Backend, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		backend: backend,
		bus:     b,
		logger:  logger,
		dir:     NewDirectory(),
		buf:     NewBuffer(),
	}
}

// Start subscribes to inbound gateway events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("gateway.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "gateway.message":
		msg, ok := evt.Payload.(*Message)
		if !ok {
			return
		}
		e.HandleInbound(*msg)
	case "gateway.up":
		if err := e.RefreshContacts(ctx); err != nil {
			e.logger.Error("failed to refresh contacts after connect", zap.Error(err))
		}
	}
}

// RefreshContacts replaces the directory with the server's current view of
// who the user can message. On error the previous directory is kept.
func (e *Engine) RefreshContacts(ctx context.Context) error {
	contacts, err := e.backend.FollowingContacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}

	e.mu.Lock()
	e.dir.Replace(contacts)
	count := e.dir.Len()
	e.mu.Unlock()

	e.publish("chat.directory_replaced", map[string]int{"contacts": count})
	return nil
}

// OpenConversation makes contactID the active conversation: fetches its
// history, replaces the buffer, marks previously-unseen messages seen
// (locally and via fire-and-forget server acks), and zeroes the contact's
// unseen counter. If the selection changes while the fetch is in flight
// the stale result is discarded and ErrSuperseded returned.
func (e *Engine) OpenConversation(ctx context.Context, contactID string) (User, []Message, error) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	peer, history, err := e.backend.Conversation(ctx, contactID)
	if err != nil {
		return User{}, nil, fmt.Errorf("fetch conversation: %w", err)
	}

	var unseenIDs []string
	for i := range history {
		if !history[i].Seen && history[i].SenderID == contactID {
			unseenIDs = append(unseenIDs, history[i].ID)
		}
		history[i].Seen = true
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return User{}, nil, ErrSuperseded
	}
	e.activeID = contactID
	e.buf.Reset(contactID, history)
	entry := e.dir.Ensure(contactID)
	entry.User = peer
	entry.UnseenCount = 0
	entry.Preview.Seen = true
	msgs := e.buf.Messages()
	e.mu.Unlock()

	if len(unseenIDs) > 0 {
		go e.ackSeen(unseenIDs...)
	}

	e.publish("chat.conversation_opened", map[string]any{
		"contact":  contactID,
		"messages": len(msgs),
	})
	return peer, msgs, nil
}

// CloseConversation detaches the active conversation, leaving the
// directory untouched. Any in-flight open fetch is invalidated.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	e.gen++
	e.activeID = ""
	e.buf.Clear()
	e.mu.Unlock()
}

// HandleInbound is the single entry point for server-pushed messages.
func (e *Engine) HandleInbound(msg Message) {
	e.mu.Lock()
	t := Route(msg, e.activeID)
	appended := false
	if t.Append {
		seen := msg
		seen.Seen = true
		appended = e.buf.Append(seen)
	}
	if t.BumpUnseen {
		e.dir.BumpUnseen(t.ContactID)
	}
	e.dir.SetPreview(t.ContactID, t.Preview)
	count := e.dir.UnseenCount(t.ContactID)
	e.mu.Unlock()

	// Duplicate deliveries are dropped before the append, and acked only once.
	if t.AckSeen && appended {
		go e.ackSeen(msg.ID)
	}

	switch {
	case appended:
		e.publish("chat.buffer_appended", map[string]string{
			"contact": t.ContactID,
			"msg_id":  msg.ID,
		})
	case t.BumpUnseen:
		e.publish("chat.unseen_bumped", map[string]any{
			"contact": t.ContactID,
			"unseen":  count,
		})
	}
}

// Send delivers a message to a contact. Empty text with no attachments is
// silently ignored per the product contract. On success the
// server-confirmed message (never a locally-synthesized placeholder) is
// appended to the buffer if that conversation is open, and the directory
// preview is patched. On failure the buffer is left unchanged.
func (e *Engine) Send(ctx context.Context, contactID, text string, attachments []Attachment) (*Message, error) {
	if text == "" && len(attachments) == 0 {
		return nil, nil
	}

	sent, err := e.backend.SendMessage(ctx, contactID, text, attachments)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	e.mu.Lock()
	if e.activeID == contactID {
		e.buf.Append(*sent)
	}
	e.dir.SetPreview(contactID, Preview{
		Message:  previewText(*sent),
		Time:     sent.CreatedAt,
		SentByMe: true,
		Seen:     true,
	})
	e.mu.Unlock()

	e.publish("chat.message_sent", map[string]string{
		"contact": contactID,
		"msg_id":  sent.ID,
	})
	return sent, nil
}

// Contacts returns the directory sorted for display.
func (e *Engine) Contacts() []Contact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.List()
}

// ActiveConversation returns the open contact id ("" if none) and a copy
// of the buffered history.
func (e *Engine) ActiveConversation() (string, []Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID, e.buf.Messages()
}

// UnseenTotal returns the sum of all unseen counters.
func (e *Engine) UnseenTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, c := range e.dir.List() {
		total += c.UnseenCount
	}
	return total
}

// Reset discards all conversation state. Called on logout; the next login
// starts from a fresh directory fetch.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.gen++
	e.activeID = ""
	e.buf.Clear()
	e.dir.Replace(nil)
	e.mu.Unlock()
}

// ackSeen acknowledges messages as seen on the server. Failures are
// logged and never surfaced; the local "seen" display is not rolled back.
func (e *Engine) ackSeen(messageIDs ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range messageIDs {
		if err := e.backend.MarkSeen(ctx, id); err != nil {
			e.logger.Error("seen ack failed", zap.Error(err), zap.String("msg_id", id))
		}
	}
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
