package sink

import (
	"fmt"

	"pendingScope/internal/engine"
	"pendingScope/internal/subscriber"
)

// Attach registers conn as a pending subscriber and applies its tier and
// filter registrations through the same command path a websocket client
// uses.
func Attach(eng *engine.Engine, name string, conn subscriber.Conn, tier string, filters []string) (*subscriber.Subscriber, error) {
	sub, err := eng.Connect(engine.EndpointPending, name, conn)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	commands := make([]string, 0, len(filters)+1)
	if tier != "" {
		commands = append(commands, tier)
	}
	commands = append(commands, filters...)
	for _, cmd := range commands {
		if err := sub.HandleCommand([]byte(cmd)); err != nil {
			eng.Disconnect(engine.EndpointPending, sub.ID())
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
	}
	return sub, nil
}
