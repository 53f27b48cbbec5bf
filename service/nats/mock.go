package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*TransferEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*TransferEvent, 0),
	}
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	return m.PublishTransferBatch(ctx, []*TransferEvent{event})
}

// PublishTransferBatch records the events and returns any configured error.
func (m *MockPublisher) PublishTransferBatch(ctx context.Context, events []*TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForPrimary returns events published for a monitored wallet.
func (m *MockPublisher) GetPublishedEventsForPrimary(primary string) []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Primary == primary {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
