package chathub

import "calcchat/backend/internal/models"

// Client is one UI connection of an identity. An identity may have several
// (two tabs, phone and laptop); the hub fans view events out to all of them.
type Client interface {
	// GetIdentity returns the chat identity the client was issued a token for.
	GetIdentity() models.Identity
	// GetClientID returns the unique id of this connection.
	GetClientID() string

	// GetSendChannel returns the channel the hub writes view events to.
	GetSendChannel() chan<- models.ViewEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's connection and channels.
	Close()
}
