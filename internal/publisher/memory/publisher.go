// Package memory contains an in-memory trigger publisher for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection and optionally fans
// them out to subscribers.
type Publisher struct {
	mu          sync.RWMutex
	messages    []PublishedMessage
	subscribers []func(PublishedMessage)
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Subscribe registers fn to be called synchronously for every later publish.
func (p *Publisher) Subscribe(fn func(PublishedMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	msg := PublishedMessage{Topic: topic, Payload: payload}
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	id := fmt.Sprintf("memory-%d", len(p.messages))
	subs := append([]func(PublishedMessage){}, p.subscribers...)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
