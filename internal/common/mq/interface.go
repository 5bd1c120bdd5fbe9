// Package mq abstracts the message broker used to broadcast judge events.
package mq

import (
	"context"
	"time"
)

// Producer defines the interface for publishing messages.
// This abstraction allows switching between broker implementations
// without changing business logic.
type Producer interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error

	// Ping verifies the broker connection is alive
	Ping(ctx context.Context) error

	// Close closes the broker connection
	Close() error
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}
