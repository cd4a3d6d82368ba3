package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dotted name whose first segment identifies the publisher:
// "gateway." for the realtime channel, "chat." for conversation state,
// "presence." for the online set, "session." for lifecycle changes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
