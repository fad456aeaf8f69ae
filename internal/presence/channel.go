// Package presence tracks the live delivery channel of each connected user.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/devhub-community/reputation-engine/internal/events"
)

// Push errors.
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrPushTimeout   = errors.New("push timed out")
)

// Channel is the delivery handle of one live connection. The transport reads
// Events until Done is closed.
type Channel struct {
	id     string
	userID string
	events chan events.Event
	done   chan struct{}
	once   sync.Once
}

// NewChannel creates a handle for userID with a buffer of the given size.
func NewChannel(userID string, buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{
		id:     uuid.NewString(),
		userID: userID,
		events: make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the unique handle ID.
func (c *Channel) ID() string { return c.id }

// UserID returns the owner of the channel.
func (c *Channel) UserID() string { return c.userID }

// Events returns the stream of pushed events.
func (c *Channel) Events() <-chan events.Event { return c.events }

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close marks the channel closed. Safe to call more than once.
// The events channel itself is never closed so a racing Push cannot panic.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.done) })
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Push delivers ev, waiting at most until ctx is done.
func (c *Channel) Push(ctx context.Context, ev events.Event) error {
	if c.Closed() {
		return ErrChannelClosed
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ErrPushTimeout
	}
}
