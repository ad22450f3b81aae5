package chathub_test

import (
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

// Message operations
func (m *MockStorage) InsertMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) LatestMessageOfType(ctx context.Context, chatID string, t models.MessageType) (*models.Message, error) {
	args := m.Called(chatID, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) MarkSeen(ctx context.Context, receiver models.Identity) (int64, error) {
	args := m.Called(receiver)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) DeleteMessages(ctx context.Context, chatID string, types []models.MessageType) (int64, error) {
	args := m.Called(chatID, types)
	return args.Get(0).(int64), args.Error(1)
}

// Status operations
func (m *MockStorage) UpsertUserStatus(ctx context.Context, status *models.UserStatus) error {
	args := m.Called(status)
	return args.Error(0)
}

func (m *MockStorage) GetUserStatus(ctx context.Context, name models.Identity) (*models.UserStatus, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserStatus), args.Error(1)
}

// Object operations
func (m *MockStorage) UploadObject(ctx context.Context, obj *models.StoredObject) error {
	args := m.Called(obj)
	return args.Error(0)
}

func (m *MockStorage) GetObject(ctx context.Context, bucket, name string) (*models.StoredObject, error) {
	args := m.Called(bucket, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredObject), args.Error(1)
}

func (m *MockStorage) PublicURL(bucket, name string) string {
	return "http://test/storage/" + bucket + "/" + name
}

func (m *MockStorage) LoadRow(ctx context.Context, table, key string) (json.RawMessage, error) {
	args := m.Called(table, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}
