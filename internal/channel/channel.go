// Package channel defines the Messaging Channel abstraction: a transport
// that delivers outbound turns to a user and receives their replies, with a
// narrow confirmation round-trip for the Permission Sandbox.
package channel

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/bus"
)

// Transport is implemented by each concrete channel backend.
type Transport interface {
	// Start begins receiving inbound messages, invoking handler for each one,
	// until ctx is cancelled or Stop is called.
	Start(ctx context.Context, handler bus.MessageHandler) error

	// Stop cleanly shuts down the transport and waits for Start's goroutines
	// to exit.
	Stop(ctx context.Context) error

	// Send delivers a message to a recipient. It never panics; failures are
	// returned as an error.
	Send(ctx context.Context, recipient, text string) error

	// SendAndAwaitReply sends a message and blocks until a reply arrives from
	// the same recipient, timeout elapses, or ctx is cancelled. Returns a nil
	// reply (not an error) on timeout — the caller decides what that means.
	SendAndAwaitReply(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error)
}

// Registry holds every configured channel, keyed by name ("telegram",
// "discord"), so the Daemon can broadcast proactive messages and the
// Permission Sandbox can route confirmation prompts to the right transport.
type Registry struct {
	channels map[string]Transport
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Transport)}
}

// Register adds a channel under name, overwriting any existing entry.
func (r *Registry) Register(name string, t Transport) {
	r.channels[name] = t
}

// Get returns the named channel and whether it was found.
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.channels[name]
	return t, ok
}

// Names returns the registered channel names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel, routing its inbound messages to
// handler. Returns the first start error, if any; channels that started
// successfully before the error are left running.
func (r *Registry) StartAll(ctx context.Context, handler bus.MessageHandler) error {
	for _, t := range r.channels {
		if err := t.Start(ctx, handler); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every registered channel.
func (r *Registry) StopAll(ctx context.Context) {
	for _, t := range r.channels {
		_ = t.Stop(ctx)
	}
}
