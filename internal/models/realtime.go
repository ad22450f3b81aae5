package models

import (
	"encoding/json"
	"time"
)

type ActivityType string

const (
	ActivityNone      ActivityType = ""
	ActivityTyping    ActivityType = "typing"
	ActivityRecording ActivityType = "recording"
)

func (a ActivityType) Valid() bool {
	return a == ActivityTyping || a == ActivityRecording
}

// ActivityBroadcast is the ephemeral typing/recording signal. Never persisted.
type ActivityBroadcast struct {
	User   Identity     `json:"user"`
	Type   ActivityType `json:"type"`
	Status bool         `json:"status"`
}

// PresenceMeta is attached to a tracked presence key.
type PresenceMeta struct {
	User     Identity  `json:"user"`
	OnlineAt time.Time `json:"online_at"`
}

type ChangeEventType string

const (
	ChangeInsert ChangeEventType = "INSERT"
	ChangeUpdate ChangeEventType = "UPDATE"
	ChangeDelete ChangeEventType = "DELETE"
)

// RowChange is one change-feed notification carrying the full affected row.
type RowChange struct {
	Table string          `json:"table"`
	Event ChangeEventType `json:"event"`
	Row   json.RawMessage `json:"row"`
}

// PresenceView is the derived online/activity state of the peer.
type PresenceView struct {
	TargetIsOnline  bool         `json:"target_is_online"`
	CurrentActivity ActivityType `json:"current_activity,omitempty"`
	// Label is the header text: the activity text while one is active,
	// Online/Offline otherwise.
	Label string `json:"label"`
	// Indicator is the floating hint in the message area, empty when idle.
	Indicator string `json:"indicator,omitempty"`
}

// MessageView is a rendered message with its tick marker.
type MessageView struct {
	Message
	Tick TickState `json:"tick,omitempty"`
}

type ViewEventKind string

const (
	EventMessage  ViewEventKind = "message"
	EventTick     ViewEventKind = "tick"
	EventPresence ViewEventKind = "presence"
	EventProfile  ViewEventKind = "profile"
	EventCleared  ViewEventKind = "cleared"
	EventError    ViewEventKind = "error"
)

// ViewEvent is pushed to the UI clients of one identity.
type ViewEvent struct {
	Kind     ViewEventKind       `json:"kind"`
	Message  *MessageView        `json:"message,omitempty"`
	Presence *PresenceView       `json:"presence,omitempty"`
	Profiles map[Identity]string `json:"profiles,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// ClientCommand is an inbound frame from a UI client.
type ClientCommand struct {
	Identity Identity     `json:"-"`
	Action   string       `json:"action"` // "activity", "visibility", "refresh"
	Type     ActivityType `json:"type,omitempty"`
	Status   bool         `json:"status,omitempty"`
	Visible  bool         `json:"visible,omitempty"`
}
