package subscriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"pendingScope/internal/filter"
	"pendingScope/internal/model"
)

const (
	errorReplyPrefix = "Exception occurred while processing request: "
	// UnhandledReply answers inbound messages on endpoints that take none.
	UnhandledReply = "WebSocket message received, but this endpoint is not configured to handle any incoming messages."
)

// ErrInactive is returned when sending to a removed subscriber.
var ErrInactive = errors.New("subscriber is no longer active")

// Conn is the outbound side of a subscriber connection.
type Conn interface {
	// Send delivers one text payload.
	Send(ctx context.Context, payload []byte) error
	// Close performs a graceful close handshake.
	Close(ctx context.Context) error
	// Abort tears the connection down without a handshake.
	Abort() error
}

// Subscriber is one connected consumer. Its tier and filters may change at
// any time; readers work from snapshots.
type Subscriber struct {
	id      uint64
	name    string
	conn    Conn
	filters *filter.Registry
	tier    atomic.Uint32
	active  atomic.Bool
}

func newSubscriber(id uint64, name string, conn Conn, maxRules int) *Subscriber {
	s := &Subscriber{
		id:      id,
		name:    name,
		conn:    conn,
		filters: filter.NewRegistry(maxRules),
	}
	s.active.Store(true)
	return s
}

func (s *Subscriber) ID() uint64 { return s.id }

func (s *Subscriber) Name() string { return s.name }

// Tier returns the negotiated detail tier.
func (s *Subscriber) Tier() model.Tier {
	return model.Tier(s.tier.Load())
}

// SetTier changes the negotiated detail tier.
func (s *Subscriber) SetTier(tier model.Tier) {
	s.tier.Store(uint32(tier))
}

// Filters returns the subscriber's filter registry.
func (s *Subscriber) Filters() *filter.Registry {
	return s.filters
}

// Active reports whether the subscriber is still registered.
func (s *Subscriber) Active() bool {
	return s.active.Load()
}

func (s *Subscriber) deactivate() bool {
	return s.active.CompareAndSwap(true, false)
}

// Send delivers payload unless the subscriber was removed.
func (s *Subscriber) Send(ctx context.Context, payload []byte) error {
	if !s.Active() {
		return ErrInactive
	}
	return s.conn.Send(ctx, payload)
}

// Reply sends a direct response, regardless of tier or filters.
func (s *Subscriber) Reply(ctx context.Context, text string) error {
	return s.Send(ctx, []byte(text))
}

// HandleCommand applies an inbound message: a tier name (none, events,
// actions) or a JSON filter registration. A malformed message leaves the
// subscriber unchanged.
func (s *Subscriber) HandleCommand(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		rule, err := filter.ParseRule(trimmed)
		if err != nil {
			return err
		}
		return s.filters.Apply(rule)
	}
	tier, ok := model.ParseTier(string(trimmed))
	if !ok {
		return fmt.Errorf("unknown command %q", truncate(string(trimmed), 64))
	}
	s.SetTier(tier)
	return nil
}

// ErrorReply formats the response for a message that could not be handled.
func ErrorReply(err error) string {
	return errorReplyPrefix + err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
