package models

import "time"

// UserStatus is the persisted presence row of one identity.
// It is upserted by the owner's heartbeat and never deleted.
type UserStatus struct {
	Name     Identity  `gorm:"primaryKey;type:text" json:"name"`
	Online   bool      `gorm:"not null;default:false" json:"online"`
	LastSeen time.Time `gorm:"not null" json:"last_seen"`
}

// TableName keeps the row in the "users" table.
func (UserStatus) TableName() string {
	return "users"
}

// IsFresh reports whether the stored online flag can be trusted at now.
// A row whose last_seen is older than window counts as offline even when the
// flag says otherwise (the owner went away without writing online=false).
func (s UserStatus) IsFresh(now time.Time, window time.Duration) bool {
	return s.Online && now.Sub(s.LastSeen) < window
}
