package telegram

import "sync"

// replyRouter fans inbound text from dispatch() out to any goroutine
// currently blocked in SendAndAwaitReply for the same chat, without
// requiring the Telegram long-poll loop to know about confirmation state.
type replyRouter struct {
	mu   sync.Mutex
	subs map[string][]chan string
}

func newReplyRouter() *replyRouter {
	return &replyRouter{subs: make(map[string][]chan string)}
}

func (r *replyRouter) subscribe(chatID string) chan string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan string, 1)
	r.subs[chatID] = append(r.subs[chatID], ch)
	return ch
}

func (r *replyRouter) unsubscribe(chatID string, ch chan string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subs[chatID]
	for i, c := range subs {
		if c == ch {
			r.subs[chatID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (r *replyRouter) publish(chatID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[chatID] {
		select {
		case ch <- text:
		default:
		}
	}
}
