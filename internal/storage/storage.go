package storage

import (
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrObjectExists is returned when an upload targets an existing (bucket, name).
	ErrObjectExists = errors.New("object already exists")
	// ErrNotFound is returned when a row or object does not exist.
	ErrNotFound = errors.New("not found")
)

type Storage interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	LatestMessageOfType(ctx context.Context, chatID string, t models.MessageType) (*models.Message, error)
	MarkSeen(ctx context.Context, receiver models.Identity) (int64, error)
	DeleteMessages(ctx context.Context, chatID string, types []models.MessageType) (int64, error)

	UpsertUserStatus(ctx context.Context, status *models.UserStatus) error
	GetUserStatus(ctx context.Context, name models.Identity) (*models.UserStatus, error)

	UploadObject(ctx context.Context, obj *models.StoredObject) error
	GetObject(ctx context.Context, bucket, name string) (*models.StoredObject, error)
	PublicURL(bucket, name string) string

	LoadRow(ctx context.Context, table, key string) (json.RawMessage, error)
}

type Service struct {
	DB            *gorm.DB
	PublicBaseURL string
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, publicBaseURL string) *Service {
	return &Service{
		DB:            db,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Migrate створює таблиці messages, users та stored_objects.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Message{},
		&models.UserStatus{},
		&models.StoredObject{},
	)
}

// InsertMessage зберігає повідомлення; ID та CreatedAt заповнюються GORM.
func (s *Service) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return errors.Wrapf(err, "insert %s message", msg.Type)
	}
	return nil
}

// ListMessages повертає всю історію чату, сортуючи за часом створення.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list messages for chat %s", chatID)
	}
	return msgs, nil
}

// LatestMessageOfType returns the newest message of the given type, or
// ErrNotFound. Used to sync control values on startup.
func (s *Service) LatestMessageOfType(ctx context.Context, chatID string, t models.MessageType) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).
		Where("chat_id = ? AND type = ?", chatID, string(t)).
		Order("created_at desc, id desc").
		Limit(1).
		Find(&msg).Error
	if err != nil {
		return nil, errors.Wrapf(err, "latest %s message", t)
	}
	if msg.ID == "" {
		return nil, ErrNotFound
	}
	return &msg, nil
}

// MarkSeen marks every unseen message addressed to receiver as seen.
func (s *Service) MarkSeen(ctx context.Context, receiver models.Identity) (int64, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("receiver = ? AND seen = ?", string(receiver), false).
		Update("seen", true)
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "mark seen for %s", receiver)
	}
	return res.RowsAffected, nil
}

// DeleteMessages deletes the chat's rows whose type is in types.
func (s *Service) DeleteMessages(ctx context.Context, chatID string, types []models.MessageType) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	res := s.DB.WithContext(ctx).
		Where("chat_id = ? AND type IN ?", chatID, names).
		Delete(&models.Message{})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "delete messages for chat %s", chatID)
	}
	return res.RowsAffected, nil
}

// UpsertUserStatus створює рядок при першому оновленні та перезаписує його надалі.
func (s *Service) UpsertUserStatus(ctx context.Context, status *models.UserStatus) error {
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"online", "last_seen"}),
		}).
		Create(status).Error
	if err != nil {
		return errors.Wrapf(err, "upsert status for %s", status.Name)
	}
	return nil
}

// GetUserStatus returns the presence row of name, or ErrNotFound.
func (s *Service) GetUserStatus(ctx context.Context, name models.Identity) (*models.UserStatus, error) {
	var status models.UserStatus
	err := s.DB.WithContext(ctx).Where("name = ?", string(name)).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get status for %s", name)
	}
	return &status, nil
}

// UploadObject stores obj. It never overwrites: an existing (bucket, name)
// yields ErrObjectExists.
func (s *Service) UploadObject(ctx context.Context, obj *models.StoredObject) error {
	obj.Size = int64(len(obj.Data))
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(obj)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "upload %s/%s", obj.Bucket, obj.Name)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrObjectExists, "upload %s/%s", obj.Bucket, obj.Name)
	}
	return nil
}

func (s *Service) GetObject(ctx context.Context, bucket, name string) (*models.StoredObject, error) {
	var obj models.StoredObject
	err := s.DB.WithContext(ctx).Where("bucket = ? AND name = ?", bucket, name).First(&obj).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get object %s/%s", bucket, name)
	}
	return &obj, nil
}

// PublicURL resolves the public address of an object. It does not check that
// the object exists.
func (s *Service) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/storage/%s/%s", s.PublicBaseURL, url.PathEscape(bucket), url.PathEscape(name))
}

// LoadRow re-reads a changed row for the change feed and returns it as JSON.
func (s *Service) LoadRow(ctx context.Context, table, key string) (json.RawMessage, error) {
	var row interface{}
	switch table {
	case "messages":
		var msg models.Message
		if err := s.DB.WithContext(ctx).Where("id = ?", key).First(&msg).Error; err != nil {
			return nil, s.rowErr(err, table, key)
		}
		row = msg
	case "users":
		var status models.UserStatus
		if err := s.DB.WithContext(ctx).Where("name = ?", key).First(&status).Error; err != nil {
			return nil, s.rowErr(err, table, key)
		}
		row = status
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return json.Marshal(row)
}

func (s *Service) rowErr(err error, table, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrapf(err, "load %s row %s", table, key)
}
