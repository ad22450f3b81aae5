// Package media turns an uploaded file into a stored object plus the message
// row that references it.
package media

import (
	"calcchat/backend/internal/config"
	"calcchat/backend/internal/models"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindVoice   Kind = "voice"
	KindProfile Kind = "profile"
)

type kindDefaults struct {
	ext         string
	contentType string
	msgType     models.MessageType
}

var kinds = map[Kind]kindDefaults{
	KindImage:   {"jpg", "image/jpeg", models.MessageImage},
	KindVideo:   {"mp4", "video/mp4", models.MessageVideo},
	KindVoice:   {"webm", "audio/webm", models.MessageVoice},
	KindProfile: {"jpg", "image/jpeg", models.MessageProfilePic},
}

var (
	ErrUnknownKind = errors.New("unknown media kind")
	ErrEmptyFile   = errors.New("file is empty")
	ErrTooLarge    = errors.New("file too large")
)

func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if _, ok := kinds[k]; !ok {
		return "", errors.Wrap(ErrUnknownKind, raw)
	}
	return k, nil
}

// Error reports which stage of a submission failed.
type Error struct {
	Stage string // "upload" or "insert"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the object and row side of the remote store.
type Store interface {
	UploadObject(ctx context.Context, obj *models.StoredObject) error
	PublicURL(bucket, name string) string
	InsertMessage(ctx context.Context, msg *models.Message) error
}

// ProfileSink receives the sender's own profile picture once it is stored.
type ProfileSink interface {
	ApplyProfile(id models.Identity, url string, at time.Time)
}

// Upload is one file as received from the client.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Pipeline struct {
	me       models.Identity
	store    Store
	profiles ProfileSink
	maxBytes int64

	// Now stamps object names.
	Now func() time.Time
}

func NewPipeline(me models.Identity, store Store, profiles ProfileSink, maxBytes int64) *Pipeline {
	return &Pipeline{me: me, store: store, profiles: profiles, maxBytes: maxBytes, Now: time.Now}
}

// Submit uploads up and inserts the referencing message. Either stage failing
// fails the whole submission; an object whose insert failed stays orphaned.
func (p *Pipeline) Submit(ctx context.Context, kind Kind, up Upload) (*models.Message, error) {
	def, ok := kinds[kind]
	if !ok {
		return nil, errors.Wrap(ErrUnknownKind, string(kind))
	}
	if len(up.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if p.maxBytes > 0 && int64(len(up.Data)) > p.maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes, limit %d", len(up.Data), p.maxBytes)
	}

	now := p.Now()
	bucket := config.Buckets[string(kind)]
	name := objectName(kind, p.me, now, Extension(up.FileName, def.ext))

	contentType := up.ContentType
	if contentType == "" {
		contentType = def.contentType
	}

	obj := &models.StoredObject{
		Bucket:      bucket,
		Name:        name,
		ContentType: contentType,
		Data:        up.Data,
	}
	if err := p.store.UploadObject(ctx, obj); err != nil {
		return nil, &Error{Stage: "upload", Err: err}
	}

	url := p.store.PublicURL(bucket, name)
	msg := &models.Message{
		ChatID:   models.ChatID,
		Sender:   p.me,
		Receiver: p.me.Peer(),
		Type:     def.msgType,
		Content:  url,
		Seen:     kind == KindProfile,
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		return nil, &Error{Stage: "insert", Err: err}
	}

	if kind == KindProfile && p.profiles != nil {
		at := msg.CreatedAt
		if at.IsZero() {
			at = now
		}
		p.profiles.ApplyProfile(p.me, url, at)
	}
	return msg, nil
}

func objectName(kind Kind, me models.Identity, now time.Time, ext string) string {
	if kind == KindProfile {
		return fmt.Sprintf("profile_%s_%d.%s", me, now.UnixMilli(), ext)
	}
	return fmt.Sprintf("%d.%s", now.UnixMilli(), ext)
}

// Extension returns the lowercased extension of fileName, or def when the name
// has none usable.
func Extension(fileName, def string) string {
	ext := strings.TrimPrefix(path.Ext(path.Base(fileName)), ".")
	if ext == "" || len(ext) > 10 {
		return def
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return def
		}
	}
	return strings.ToLower(ext)
}
