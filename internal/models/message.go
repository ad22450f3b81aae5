package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatID is the fixed pairing key of the only conversation in the system.
const ChatID = "A_S"

// Identity is one of the two hardcoded chat participants.
type Identity string

const (
	IdentityA Identity = "A"
	IdentityS Identity = "S"
)

// Peer returns the other participant.
func (i Identity) Peer() Identity {
	if i == IdentityA {
		return IdentityS
	}
	return IdentityA
}

func (i Identity) Valid() bool {
	return i == IdentityA || i == IdentityS
}

// ParseIdentity validates a raw identity string ("A" or "S").
func ParseIdentity(raw string) (Identity, error) {
	id := Identity(raw)
	if !id.Valid() {
		return "", fmt.Errorf("unknown identity %q", raw)
	}
	return id, nil
}

// MessageType tags a message row. Control types ride the message stream as a
// config-sync side channel and are never rendered as chat bubbles.
type MessageType string

const (
	MessageText               MessageType = "text"
	MessageImage              MessageType = "image"
	MessageVideo              MessageType = "video"
	MessageVoice              MessageType = "voice"
	MessageProfilePic         MessageType = "profile_pic"
	MessageCalculatorPassword MessageType = "calculator_password"
	MessageUserAPassword      MessageType = "user_a_password"
)

// RenderableTypes are the types shown in the conversation view. Clearing the
// history deletes exactly these.
var RenderableTypes = []MessageType{MessageText, MessageImage, MessageVideo, MessageVoice}

// IsControl reports whether the type is a side-channel control message.
func (t MessageType) IsControl() bool {
	switch t {
	case MessageProfilePic, MessageCalculatorPassword, MessageUserAPassword:
		return true
	}
	return false
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoice,
		MessageProfilePic, MessageCalculatorPassword, MessageUserAPassword:
		return true
	}
	return false
}

// Message represents one row of the messages table.
type Message struct {
	// ID is the unique message identity (UUID), used for idempotent rendering.
	ID string `gorm:"primaryKey;type:text" json:"id"`
	// ChatID is always ChatID for this system.
	ChatID string `gorm:"type:text;not null;index:idx_chat_created" json:"chat_id"`
	// Sender is the identity that wrote the message.
	Sender Identity `gorm:"type:text;not null" json:"sender"`
	// Receiver is the other identity.
	Receiver Identity `gorm:"type:text;not null;index:idx_receiver_seen" json:"receiver"`
	// Type indicates the kind of message (text, image, ... or a control type).
	Type MessageType `gorm:"type:text;not null;index" json:"type"`
	// Content is the text itself or the public address of a stored object.
	Content string `gorm:"type:text;not null" json:"content"`
	// Seen is set by the receiver's bulk seen-marking.
	Seen bool `gorm:"not null;default:false;index:idx_receiver_seen" json:"seen"`
	// CreatedAt orders the conversation.
	CreatedAt time.Time `gorm:"index:idx_chat_created" json:"created_at"`
}

// BeforeCreate: хук GORM, генерує UUID для повідомлення, якщо ID ще не встановлено.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ChatID == "" {
		m.ChatID = ChatID
	}
	return
}

// TickState is the delivery indicator of an outgoing message.
type TickState string

const (
	TickNone   TickState = ""
	TickSent   TickState = "sent"
	TickOnline TickState = "online"
	TickSeen   TickState = "seen"
)

func (t TickState) rank() int {
	switch t {
	case TickSent:
		return 1
	case TickOnline:
		return 2
	case TickSeen:
		return 3
	}
	return 0
}

// Advance returns the later of the two states. Ticks never move backwards.
func (t TickState) Advance(next TickState) TickState {
	if next.rank() > t.rank() {
		return next
	}
	return t
}
