package kafka

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (f *fakeProducer) WriteMessage(_ context.Context, msg kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_BuildsMessage(t *testing.T) {
	fp := &fakeProducer{}
	p := NewWithProducer(fp)

	err := p.Publish(context.Background(), "stock-updates", "p1", map[string]any{"newStock": 6})
	require.NoError(t, err)

	require.Len(t, fp.written, 1)
	msg := fp.written[0]
	assert.Equal(t, "stock-updates", msg.Topic)
	assert.Equal(t, "p1", string(msg.Key))
	assert.JSONEq(t, `{"newStock":6}`, string(msg.Value))
	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
}

func TestPublisher_WrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewWithProducer(&fakeProducer{err: boom})

	err := p.Publish(context.Background(), "order-notifications", "o1", struct{}{})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "order-notifications")
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPublisher_Broker(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	p, err := New(Config{Brokers: strings.Split(brokers, ","), ClientID: "queue-test"})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), "queue-test", "k", map[string]string{"hello": "world"}))
}
