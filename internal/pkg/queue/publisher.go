// Package queue publishes JSON notifications to named topics. Delivery is
// at-least-once at best; consumers must tolerate duplicates and gaps.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type Publisher interface {
	// Publish encodes payload as JSON and sends it to topic. key groups
	// messages that should stay in order within the topic.
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

// Message is an encoded payload ready for a transport.
type Message struct {
	Topic string
	Key   string
	Body  []byte
}

func Encode(topic, key string, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("queue: encode message for %q: %w", topic, err)
	}
	return Message{Topic: topic, Key: key, Body: body}, nil
}
