// Package presence tracks which users are currently online according to
// the gateway's full-snapshot broadcasts.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pcardosol/orbit/internal/bus"
)

// Tracker holds the online-user set. Each gateway broadcast is a full
// snapshot that replaces the previous one; when the gateway drops, the
// set is cleared so nobody is shown online from stale data.
type Tracker struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu     sync.RWMutex
	online map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		bus:    b,
		logger: logger,
		online: make(map[string]struct{}),
	}
}

// Start subscribes to gateway events on the bus.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe("gateway.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				t.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "gateway.online_users":
		ids, ok := evt.Payload.([]string)
		if !ok {
			return
		}
		t.Replace(ids)
	case "gateway.down":
		t.Clear()
	}
}

// Replace swaps the online set with a new snapshot.
func (t *Tracker) Replace(ids []string) {
	t.mu.Lock()
	t.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.online[id] = struct{}{}
	}
	count := len(t.online)
	t.mu.Unlock()

	t.logger.Debug("presence snapshot applied", zap.Int("online", count))
	t.publishChanged(count)
}

// Clear empties the online set. Without a live gateway connection the
// last snapshot is meaningless.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.mu.Unlock()

	t.publishChanged(0)
}

// Online reports whether a user appeared in the latest snapshot.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Snapshot returns the current online-user ids.
func (t *Tracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

func (t *Tracker) publishChanged(count int) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      "presence.changed",
		Timestamp: time.Now(),
		Payload:   map[string]int{"online": count},
	})
}
