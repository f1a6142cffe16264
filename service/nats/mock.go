package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu                sync.RWMutex
	feedEvents        []*FeedEvent
	viewEvents        []*HomeViewEvent
	publishError      error
	publishBatchError error
	closed            bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishFeed records the event and returns any configured error.
func (m *MockPublisher) PublishFeed(ctx context.Context, event *FeedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.feedEvents = append(m.feedEvents, event)
	return nil
}

// PublishFeedBatch records the events and returns any configured error.
func (m *MockPublisher) PublishFeedBatch(ctx context.Context, events []*FeedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishBatchError != nil {
		return m.publishBatchError
	}
	m.feedEvents = append(m.feedEvents, events...)
	return nil
}

// PublishHomeView records the view and returns any configured error.
func (m *MockPublisher) PublishHomeView(ctx context.Context, event *HomeViewEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.viewEvents = append(m.viewEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetFeedEvents returns all published feed events.
func (m *MockPublisher) GetFeedEvents() []*FeedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*FeedEvent, len(m.feedEvents))
	copy(events, m.feedEvents)
	return events
}

// GetFeedEventsForWallet returns feed events published for a specific wallet.
func (m *MockPublisher) GetFeedEventsForWallet(address string) []*FeedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*FeedEvent
	for _, event := range m.feedEvents {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// GetHomeViewEvents returns all published view events.
func (m *MockPublisher) GetHomeViewEvents() []*HomeViewEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*HomeViewEvent, len(m.viewEvents))
	copy(events, m.viewEvents)
	return events
}

// SetPublishError configures the mock to return an error on single publishes.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishBatchError configures the mock to return an error on PublishFeedBatch.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishBatchError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedEvents = nil
	m.viewEvents = nil
	m.publishError = nil
	m.publishBatchError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
