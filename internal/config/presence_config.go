package config

import "time"

const (
	// Presence
	PollInterval      = 1500 * time.Millisecond
	HeartbeatInterval = 2 * time.Second
	FreshnessWindow   = 6 * time.Second
	ActivityExpiry    = 4 * time.Second

	// Realtime channels
	PresenceRoom    = "presence-room"
	ActivitySubject = "broadcast.presence-room.activity"
	ChangeChannel   = "row_changes"

	// Session token
	TokenIssuer = "calcchat-service"
	TokenTTL    = 72 * time.Hour
)

// Buckets maps an upload kind to its object storage bucket.
var Buckets = map[string]string{
	"image":   "images",
	"video":   "videos",
	"voice":   "voices",
	"profile": "images",
}
