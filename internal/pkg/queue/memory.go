package queue

import (
	"context"
	"sync"
)

// Memory keeps published messages in process. Set FailWith to make every
// Publish fail.
type Memory struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

var _ Publisher = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, topic, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Encode(topic, key, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Messages returns what was published to topic, oldest first. An empty topic
// returns everything.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, msg := range m.messages {
		if topic == "" || msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) Close() error { return nil }
