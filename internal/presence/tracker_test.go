package presence

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/pcardosol/orbit/internal/bus"
)

func TestReplaceIsFullSnapshot(t *testing.T) {
	tr := NewTracker(nil, nil)

	tr.Replace([]string{"u1", "u2"})
	if !tr.Online("u1") || !tr.Online("u2") {
		t.Error("first snapshot not applied")
	}

	tr.Replace([]string{"u2", "u3"})
	if tr.Online("u1") {
		t.Error("u1 still online after snapshot that omits it")
	}
	if !tr.Online("u3") {
		t.Error("u3 missing after second snapshot")
	}

	got := tr.Snapshot()
	slices.Sort(got)
	if !slices.Equal(got, []string{"u2", "u3"}) {
		t.Errorf("snapshot = %v, want [u2 u3]", got)
	}
}

func TestClearEmptiesSet(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.Replace([]string{"u1"})
	tr.Clear()

	if tr.Online("u1") {
		t.Error("u1 online after clear")
	}
	if len(tr.Snapshot()) != 0 {
		t.Errorf("snapshot = %v, want empty", tr.Snapshot())
	}
}

func TestTrackerFollowsBusEvents(t *testing.T) {
	b := bus.New()
	tr := NewTracker(b, nil)
	tr.Start(context.Background())
	defer tr.Stop()

	b.Publish(bus.Event{Kind: "gateway.online_users", Timestamp: time.Now(), Payload: []string{"u5"}})

	waitFor(t, func() bool { return tr.Online("u5") })

	// A dropped connection clears everyone.
	b.Publish(bus.Event{Kind: "gateway.down", Timestamp: time.Now()})

	waitFor(t, func() bool { return !tr.Online("u5") })
}

func TestReplacePublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("presence.", 4)
	defer unsub()

	tr := NewTracker(b, nil)
	tr.Replace([]string{"u1", "u2"})

	select {
	case evt := <-ch:
		if evt.Kind != "presence.changed" {
			t.Errorf("kind = %q", evt.Kind)
		}
		if counts := evt.Payload.(map[string]int); counts["online"] != 2 {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.changed event")
	}
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
