package gate

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/storage"
	"calcchat/backend/internal/vault"
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ControlSource finds the newest control message of a type.
type ControlSource interface {
	LatestMessageOfType(ctx context.Context, chatID string, t models.MessageType) (*models.Message, error)
}

// CodeWriter stores a synced code if it is newer than the cached one.
type CodeWriter interface {
	Set(ctx context.Context, key, code string, at time.Time) (bool, error)
}

var codeKeys = map[models.MessageType]string{
	models.MessageCalculatorPassword: vault.KeyCalculator,
	models.MessageUserAPassword:      vault.KeyUserA,
}

// CodeSync keeps the vault in step with the password control messages, also
// while no chat session is open.
type CodeSync struct {
	Source ControlSource
	Codes  CodeWriter
}

// Pull copies the newest stored code of each key into the vault.
func (s *CodeSync) Pull(ctx context.Context) error {
	for t, key := range codeKeys {
		msg, err := s.Source.LatestMessageOfType(ctx, models.ChatID, t)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.Codes.Set(ctx, key, msg.Content, msg.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// HandleInsert applies a live password control message.
func (s *CodeSync) HandleInsert(ctx context.Context, msg models.Message) {
	key, ok := codeKeys[msg.Type]
	if !ok || msg.ChatID != models.ChatID {
		return
	}
	written, err := s.Codes.Set(ctx, key, msg.Content, msg.CreatedAt)
	if err != nil {
		logger.Warn("code sync failed", zap.String("key", key), zap.Error(err))
		return
	}
	if written {
		logger.Info("code updated from sync", zap.String("key", key))
	}
}
