package mqtt

import (
	"context"
	"sync"
)

// Published is a message recorded by FakeClient
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records subscriptions and publishes for tests.
type FakeClient struct {
	mu       sync.Mutex
	handlers map[string]MessageHandler

	// Messages contains everything that was published.
	Messages []Published

	// ConnectError, if set, is returned by Connect.
	ConnectError error

	// PublishError, if set, is returned by Publish.
	PublishError error

	connected bool
}

// NewFakeClient creates a FakeClient for testing
func NewFakeClient() *FakeClient {
	return &FakeClient{handlers: make(map[string]MessageHandler)}
}

// Connect marks the client connected
func (f *FakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectError != nil {
		return f.ConnectError
	}
	f.connected = true
	return nil
}

// Disconnect marks the client disconnected
func (f *FakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// Subscribe records the handler for topic
func (f *FakeClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

// Publish records the message
func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Published{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	return nil
}

// IsConnected reports whether Connect succeeded
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Deliver invokes the handler subscribed to subscription with a message on topic.
// It reports false when nothing is subscribed.
func (f *FakeClient) Deliver(subscription, topic string, payload []byte) bool {
	f.mu.Lock()
	handler, ok := f.handlers[subscription]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(&FakeMessage{TopicName: topic, Body: payload})
	return true
}

// Published returns a copy of the published messages
func (f *FakeClient) Published() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Published, len(f.Messages))
	copy(out, f.Messages)
	return out
}

// FakeMessage is a Message with fixed contents
type FakeMessage struct {
	TopicName string
	Body      []byte
	Acked     bool
}

func (m *FakeMessage) Topic() string   { return m.TopicName }
func (m *FakeMessage) Payload() []byte { return m.Body }
func (m *FakeMessage) Ack()            { m.Acked = true }
