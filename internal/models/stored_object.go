package models

import "time"

// StoredObject is an uploaded media blob addressed by (bucket, name).
type StoredObject struct {
	Bucket      string    `gorm:"primaryKey;type:text"`
	Name        string    `gorm:"primaryKey;type:text"`
	ContentType string    `gorm:"type:text;not null"`
	Size        int64     `gorm:"not null"`
	Data        []byte    `gorm:"not null"`
	CreatedAt   time.Time
}
