package chathub_test

import (
	"calcchat/backend/internal/models"
	"sync"
)

type MockClient struct {
	identity    models.Identity
	id          string
	RecvChannel chan models.ViewEvent

	mu     sync.Mutex
	closed bool
}

func newMockClient(identity models.Identity, id string) *MockClient {
	return &MockClient{
		identity:    identity,
		id:          id,
		RecvChannel: make(chan models.ViewEvent, 64),
	}
}

func (c *MockClient) GetIdentity() models.Identity { return c.identity }

func (c *MockClient) GetClientID() string { return c.id }

func (c *MockClient) GetSendChannel() chan<- models.ViewEvent {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
