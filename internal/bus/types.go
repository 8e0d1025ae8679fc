// Package bus defines the message envelopes passed between the Messaging
// Channel implementations and the Daemon/Orchestrator.
package bus

// InboundMessage is a message received from a channel (Telegram, Discord).
type InboundMessage struct {
	Channel   string            `json:"channel"`
	UserID    string            `json:"user_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageHandler handles one inbound message from a channel.
type MessageHandler func(InboundMessage)
