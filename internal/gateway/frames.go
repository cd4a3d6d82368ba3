package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pcardosol/orbit/internal/bus"
	"github.com/pcardosol/orbit/internal/chat"
)

// frame is the wire envelope for every gateway push.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// errSkipFrame marks event kinds this client does not consume. Unknown
// frames are dropped without tearing down the connection.
var errSkipFrame = fmt.Errorf("gateway: unhandled frame")

// decodeFrame translates a wire frame into a bus event.
func decodeFrame(f frame) (bus.Event, error) {
	switch f.Event {
	case "online_users":
		var ids []string
		if err := json.Unmarshal(f.Data, &ids); err != nil {
			return bus.Event{}, fmt.Errorf("decode online_users: %w", err)
		}
		return bus.Event{
			Kind:      "gateway.online_users",
			Timestamp: time.Now(),
			Payload:   ids,
		}, nil
	case "message":
		var msg chat.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return bus.Event{}, fmt.Errorf("decode message: %w", err)
		}
		return bus.Event{
			Kind:      "gateway.message",
			Timestamp: time.Now(),
			Payload:   &msg,
		}, nil
	default:
		return bus.Event{}, errSkipFrame
	}
}
