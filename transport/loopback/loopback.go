// Package loopback provides an in-memory quiz.Channel.
//
// A loopback Channel never touches the network. Emitted commands are
// recorded in order and Deliver plays the server's part by invoking the
// handler registered for an event. It backs tests and offline replays.
package loopback

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ugobenoist/quiz/game/quiz"
)

var (
	ErrNoHandler = errors.New("no handler registered")
	ErrClosed    = errors.New("channel closed")
)

// Emitted is one recorded outbound event
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Channel is a quiz.Channel backed by memory
type Channel struct {
	mu       sync.Mutex
	handlers map[string]quiz.Handler
	emitted  []Emitted
	emitErr  error
	closed   bool
}

var _ quiz.Channel = (*Channel)(nil)

// New creates an empty loopback channel
func New() *Channel {
	return &Channel{
		handlers: make(map[string]quiz.Handler),
	}
}

// On registers h for event, replacing any previous handler
func (c *Channel) On(event string, h quiz.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for event
func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Emit records the event. The payload is encoded the way it would be on
// the wire, so tests can assert on JSON.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.emitErr != nil {
		return c.emitErr
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}

	c.emitted = append(c.emitted, Emitted{Event: event, Payload: raw})
	return nil
}

// FailEmits makes every following Emit return err. Pass nil to recover.
func (c *Channel) FailEmits(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

// Deliver invokes the handler for event as if the server had sent payload.
// The handler runs on the caller's goroutine.
func (c *Channel) Deliver(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return c.DeliverRaw(event, data)
}

// DeliverRaw is Deliver with a pre-encoded payload
func (c *Channel) DeliverRaw(event string, payload json.RawMessage) error {
	c.mu.Lock()
	h, ok := c.handlers[event]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, event)
	}
	h(payload)
	return nil
}

// Emitted returns a copy of every recorded outbound event
func (c *Channel) Emitted() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Emitted, len(c.emitted))
	copy(out, c.emitted)
	return out
}

// Reset forgets recorded outbound events
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = nil
}

// Handlers returns the sorted names of events with a registered handler
func (c *Channel) Handlers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close makes further emits fail with ErrClosed
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
