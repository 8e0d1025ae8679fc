// Package fake provides an in-memory Transport for tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/bus"
)

// Transport is a Transport implementation backed by in-memory queues. It
// lets tests drive inbound messages and inspect outbound sends without a
// real network transport.
type Transport struct {
	mu       sync.Mutex
	sent     []Sent
	handler  bus.MessageHandler
	replies  map[string]chan string
	started  bool
	RecvFunc func(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error)
}

// Sent records one call to Send or SendAndAwaitReply. A SendAndAwaitReply
// call answered by RecvFunc is not recorded.
type Sent struct {
	Recipient string
	Text      string
}

// New creates an empty fake Transport.
func New() *Transport {
	return &Transport{replies: make(map[string]chan string)}
}

func (t *Transport) Start(ctx context.Context, handler bus.MessageHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.started = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) Send(ctx context.Context, recipient, text string) error {
	t.mu.Lock()
	t.sent = append(t.sent, Sent{Recipient: recipient, Text: text})
	t.mu.Unlock()
	return nil
}

func (t *Transport) SendAndAwaitReply(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error) {
	if t.RecvFunc != nil {
		return t.RecvFunc(ctx, recipient, text, timeout)
	}
	if err := t.Send(ctx, recipient, text); err != nil {
		return nil, err
	}

	ch := t.replyChan(recipient)
	select {
	case reply := <-ch:
		return &reply, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver simulates an inbound message from recipient, waking any pending
// SendAndAwaitReply call for that recipient and invoking the Start handler.
func (t *Transport) Deliver(msg bus.InboundMessage) {
	t.mu.Lock()
	handler := t.handler
	ch, ok := t.replies[msg.UserID]
	t.mu.Unlock()

	if ok {
		select {
		case ch <- msg.Content:
		default:
		}
	}
	if handler != nil {
		handler(msg)
	}
}

func (t *Transport) replyChan(recipient string) chan string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.replies[recipient]
	if !ok {
		ch = make(chan string, 1)
		t.replies[recipient] = ch
	}
	return ch
}

// Sent returns every message passed to Send/SendAndAwaitReply so far,
// except SendAndAwaitReply calls handled by RecvFunc.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sent, len(t.sent))
	copy(out, t.sent)
	return out
}

// Started reports whether Start has been called without a matching Stop.
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
