package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pcardosol/orbit/internal/bus"
)

// fakeBackend is an in-memory Backend with per-call gates for race tests.
type fakeBackend struct {
	mu        sync.Mutex
	contacts  []Contact
	users     map[string]User
	histories map[string][]Message
	sendErr   error
	marked    []string
	convGate  map[string]chan struct{} // Conversation blocks on the gate if present
	sendSeq   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:     make(map[string]User),
		histories: make(map[string][]Message),
		convGate:  make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) FollowingContacts(_ context.Context) ([]Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Contact, len(f.contacts))
	copy(out, f.contacts)
	return out, nil
}

func (f *fakeBackend) Conversation(_ context.Context, userID string) (User, []Message, error) {
	f.mu.Lock()
	gate := f.convGate[userID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]Message, len(f.histories[userID]))
	copy(msgs, f.histories[userID])
	return f.users[userID], msgs, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, userID, text string, attachments []Attachment) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sendSeq++
	return &Message{
		ID:         "srv-" + text,
		SenderID:   "me",
		ReceiverID: userID,
		Text:       text,
		CreatedAt:  time.Date(2026, 3, 14, 12, 0, f.sendSeq, 0, time.UTC),
		Seen:       false,
	}, nil
}

func (f *fakeBackend) MarkSeen(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeBackend) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func inbound(id, sender, text string, sec int) Message {
	return Message{
		ID: id, SenderID: sender, ReceiverID: "me", Text: text,
		CreatedAt: time.Date(2026, 3, 14, 12, 0, sec, 0, time.UTC),
	}
}

func TestRefreshContactsReplacesDirectory(t *testing.T) {
	fb := newFakeBackend()
	fb.contacts = []Contact{
		{User: User{ID: "alice", FullName: "Alice A"}},
		{User: User{ID: "bob", FullName: "Bob B"}},
	}
	e := NewEngine(fb, bus.New(), nil)

	if err := e.RefreshContacts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(e.Contacts()); got != 2 {
		t.Fatalf("contacts = %d, want 2", got)
	}

	fb.mu.Lock()
	fb.contacts = []Contact{{User: User{ID: "carol"}}}
	fb.mu.Unlock()

	if err := e.RefreshContacts(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := e.Contacts()
	if len(got) != 1 || got[0].User.ID != "carol" {
		t.Errorf("contacts after refresh = %v, want just carol", got)
	}
}

func TestOpenConversationMarksSeenAndResetsUnseen(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice", FullName: "Alice A"}
	fb.histories["alice"] = []Message{
		{ID: "m1", SenderID: "alice", ReceiverID: "me", Text: "old", Seen: true, CreatedAt: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)},
		{ID: "m2", SenderID: "alice", ReceiverID: "me", Text: "unread", Seen: false, CreatedAt: time.Date(2026, 3, 14, 11, 1, 0, 0, time.UTC)},
		{ID: "m3", SenderID: "me", ReceiverID: "alice", Text: "mine", Seen: false, CreatedAt: time.Date(2026, 3, 14, 11, 2, 0, 0, time.UTC)},
	}
	e := NewEngine(fb, bus.New(), nil)

	// Simulate two unseen deliveries before the conversation was opened.
	e.HandleInbound(inbound("m2", "alice", "unread", 1))
	if got := e.Contacts()[0].UnseenCount; got != 1 {
		t.Fatalf("unseen before open = %d, want 1", got)
	}

	peer, msgs, err := e.OpenConversation(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if peer.FullName != "Alice A" {
		t.Errorf("peer = %+v", peer)
	}
	if len(msgs) != 3 {
		t.Fatalf("history = %d messages, want 3", len(msgs))
	}
	for _, m := range msgs {
		if !m.Seen {
			t.Errorf("message %s not marked seen locally", m.ID)
		}
	}
	if got := e.Contacts()[0].UnseenCount; got != 0 {
		t.Errorf("unseen after open = %d, want 0", got)
	}

	// Only the previously-unseen inbound message gets a server ack.
	waitFor(t, func() bool { return len(fb.markedIDs()) == 1 })
	if got := fb.markedIDs(); got[0] != "m2" {
		t.Errorf("acked ids = %v, want [m2]", got)
	}
}

func TestOpenConversationResetOnlyAffectsTarget(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	e.HandleInbound(inbound("a1", "alice", "x", 1))
	e.HandleInbound(inbound("b1", "bob", "y", 2))
	e.HandleInbound(inbound("b2", "bob", "z", 3))

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	for _, c := range e.Contacts() {
		switch c.User.ID {
		case "alice":
			if c.UnseenCount != 0 {
				t.Errorf("alice unseen = %d, want 0", c.UnseenCount)
			}
		case "bob":
			if c.UnseenCount != 2 {
				t.Errorf("bob unseen = %d, want 2", c.UnseenCount)
			}
		}
	}
}

func TestOpenConversationStaleFetchDiscarded(t *testing.T) {
	fb := newFakeBackend()
	fb.users["a"] = User{ID: "a"}
	fb.users["b"] = User{ID: "b"}
	fb.histories["a"] = []Message{inbound("a1", "a", "from a", 1)}
	fb.histories["b"] = []Message{inbound("b1", "b", "from b", 2)}
	gate := make(chan struct{})
	fb.convGate["a"] = gate

	e := NewEngine(fb, bus.New(), nil)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := e.OpenConversation(context.Background(), "a")
		errCh <- err
	}()

	// Open B while A's fetch is still blocked, then release A.
	time.Sleep(20 * time.Millisecond)
	if _, _, err := e.OpenConversation(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("stale open error = %v, want ErrSuperseded", err)
	}

	active, msgs := e.ActiveConversation()
	if active != "b" {
		t.Errorf("active = %q, want b", active)
	}
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Errorf("buffer = %v, want b's history", msgs)
	}
}

func TestInboundToOpenConversation(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	e.HandleInbound(inbound("m1", "alice", "hey", 1))

	_, msgs := e.ActiveConversation()
	if len(msgs) != 1 || !msgs[0].Seen {
		t.Fatalf("buffer = %v, want one seen message", msgs)
	}
	if got := e.Contacts()[0].UnseenCount; got != 0 {
		t.Errorf("unseen = %d, want 0 for open conversation", got)
	}
	waitFor(t, func() bool { return len(fb.markedIDs()) == 1 })

	c := e.Contacts()[0]
	if c.Preview.Message != "hey" || c.Preview.SentByMe || !c.Preview.Seen {
		t.Errorf("preview = %+v", c.Preview)
	}
}

func TestInboundToClosedConversation(t *testing.T) {
	fb := newFakeBackend()
	e := NewEngine(fb, bus.New(), nil)

	e.HandleInbound(inbound("m1", "carol", "psst", 1))

	_, msgs := e.ActiveConversation()
	if len(msgs) != 0 {
		t.Errorf("buffer gained %d messages, want 0", len(msgs))
	}
	c := e.Contacts()[0]
	if c.User.ID != "carol" || c.UnseenCount != 1 {
		t.Errorf("contact = %+v, want carol with unseen=1", c)
	}
	if c.Preview.Message != "psst" || c.Preview.Seen || c.Preview.SentByMe {
		t.Errorf("preview = %+v", c.Preview)
	}
	if got := fb.markedIDs(); len(got) != 0 {
		t.Errorf("acked %v, want no acks for closed conversation", got)
	}
}

func TestInboundDuplicateDeliveredOnce(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	msg := inbound("m1", "alice", "once", 1)
	e.HandleInbound(msg)
	e.HandleInbound(msg)

	_, msgs := e.ActiveConversation()
	if len(msgs) != 1 {
		t.Fatalf("buffer = %d messages, want 1 (id dedup)", len(msgs))
	}
	waitFor(t, func() bool { return len(fb.markedIDs()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := fb.markedIDs(); len(got) != 1 {
		t.Errorf("acked %d times, want 1", len(got))
	}
}

func TestSendEmptyIsNoOp(t *testing.T) {
	fb := newFakeBackend()
	e := NewEngine(fb, bus.New(), nil)

	sent, err := e.Send(context.Background(), "alice", "", nil)
	if err != nil {
		t.Fatalf("empty send returned error: %v", err)
	}
	if sent != nil {
		t.Errorf("empty send returned a message: %+v", sent)
	}
	if fb.sendSeq != 0 {
		t.Error("backend was called for an empty send")
	}
}

func TestSendAppendsServerConfirmedMessage(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	sent, err := e.Send(context.Background(), "alice", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sent == nil || sent.ID != "srv-hello" {
		t.Fatalf("sent = %+v, want server-confirmed message", sent)
	}

	_, msgs := e.ActiveConversation()
	if len(msgs) != 1 || msgs[0].ID != "srv-hello" {
		t.Errorf("buffer = %v", msgs)
	}
	c := e.Contacts()[0]
	if c.Preview.Message != "hello" || !c.Preview.SentByMe {
		t.Errorf("preview = %+v, want hello with SentByMe", c.Preview)
	}
}

func TestSendAttachmentOnly(t *testing.T) {
	fb := newFakeBackend()
	e := NewEngine(fb, bus.New(), nil)

	sent, err := e.Send(context.Background(), "alice", "", []Attachment{{Name: "pic.jpg", Data: []byte{1}}})
	if err != nil {
		t.Fatal(err)
	}
	if sent == nil {
		t.Fatal("attachment-only send was treated as a no-op")
	}
}

func TestSendFailureLeavesBufferUnchanged(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	fb.mu.Lock()
	fb.sendErr = errors.New("boom")
	fb.mu.Unlock()

	if _, err := e.Send(context.Background(), "alice", "hello", nil); err == nil {
		t.Fatal("send error not surfaced")
	}
	_, msgs := e.ActiveConversation()
	if len(msgs) != 0 {
		t.Errorf("buffer = %d messages after failed send, want 0", len(msgs))
	}
}

func TestUnseenAccounting(t *testing.T) {
	fb := newFakeBackend()
	fb.users["y"] = User{ID: "y"}
	e := NewEngine(fb, bus.New(), nil)

	// Three from y while closed, two from z while closed.
	e.HandleInbound(inbound("y1", "y", "a", 1))
	e.HandleInbound(inbound("y2", "y", "b", 2))
	e.HandleInbound(inbound("y3", "y", "c", 3))
	e.HandleInbound(inbound("z1", "z", "d", 4))
	e.HandleInbound(inbound("z2", "z", "e", 5))

	counts := map[string]int{}
	for _, c := range e.Contacts() {
		counts[c.User.ID] = c.UnseenCount
	}
	if counts["y"] != 3 || counts["z"] != 2 {
		t.Fatalf("counts = %v, want y:3 z:2", counts)
	}

	// Opening y zeroes y only; one more from y while open stays at zero.
	if _, _, err := e.OpenConversation(context.Background(), "y"); err != nil {
		t.Fatal(err)
	}
	e.HandleInbound(inbound("y4", "y", "f", 6))

	counts = map[string]int{}
	for _, c := range e.Contacts() {
		counts[c.User.ID] = c.UnseenCount
	}
	if counts["y"] != 0 || counts["z"] != 2 {
		t.Errorf("counts after open = %v, want y:0 z:2", counts)
	}
	if got := e.UnseenTotal(); got != 2 {
		t.Errorf("UnseenTotal = %d, want 2", got)
	}
}

func TestEngineBusSubscription(t *testing.T) {
	fb := newFakeBackend()
	b := bus.New()
	e := NewEngine(fb, b, nil)

	e.Start(context.Background())
	defer e.Stop()

	msg := inbound("m1", "dave", "via bus", 1)
	b.Publish(bus.Event{Kind: "gateway.message", Timestamp: time.Now(), Payload: &msg})

	waitFor(t, func() bool {
		for _, c := range e.Contacts() {
			if c.User.ID == "dave" && c.UnseenCount == 1 {
				return true
			}
		}
		return false
	})
}

func TestEngineRefreshOnGatewayUp(t *testing.T) {
	fb := newFakeBackend()
	fb.contacts = []Contact{{User: User{ID: "alice"}}}
	b := bus.New()
	e := NewEngine(fb, b, nil)

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.Event{Kind: "gateway.up", Timestamp: time.Now()})

	waitFor(t, func() bool { return len(e.Contacts()) == 1 })
}

func TestResetDiscardsSessionState(t *testing.T) {
	fb := newFakeBackend()
	fb.users["alice"] = User{ID: "alice"}
	e := NewEngine(fb, bus.New(), nil)

	if _, _, err := e.OpenConversation(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	e.HandleInbound(inbound("m1", "alice", "hi", 1))
	e.Reset()

	active, msgs := e.ActiveConversation()
	if active != "" || len(msgs) != 0 || len(e.Contacts()) != 0 {
		t.Errorf("state after reset: active=%q msgs=%d contacts=%d", active, len(msgs), len(e.Contacts()))
	}
}
