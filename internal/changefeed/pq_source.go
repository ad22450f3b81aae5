package changefeed

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RowLoader re-reads a changed row by its key.
type RowLoader interface {
	LoadRow(ctx context.Context, table, key string) (json.RawMessage, error)
}

// notification is the payload written by the notify_row_change trigger.
type notification struct {
	Table string                 `json:"table"`
	Event models.ChangeEventType `json:"event"`
	Key   string                 `json:"key"`
}

// PQSource listens on a PostgreSQL NOTIFY channel and emits full row changes.
type PQSource struct {
	Listener *pq.Listener
	Loader   RowLoader
	out      chan models.RowChange
}

// NewPQSource opens a reconnecting listener on channel.
func NewPQSource(dsn, channel string, loader RowLoader) (*PQSource, error) {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("change feed listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	return &PQSource{
		Listener: listener,
		Loader:   loader,
		out:      make(chan models.RowChange, 256),
	}, nil
}

// Changes is closed when Run returns.
func (s *PQSource) Changes() <-chan models.RowChange {
	return s.out
}

// Run relays notifications until ctx is done.
func (s *PQSource) Run(ctx context.Context) {
	defer close(s.out)
	defer s.Listener.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.Listener.Notify:
			if n == nil {
				// Reconnected: notifications sent while we were away are lost.
				logger.Warn("change feed reconnected")
				continue
			}
			change, ok := s.resolve(ctx, n.Extra)
			if !ok {
				continue
			}
			select {
			case s.out <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *PQSource) resolve(ctx context.Context, payload string) (models.RowChange, bool) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		logger.Warn("bad change payload", zap.String("payload", payload), zap.Error(err))
		return models.RowChange{}, false
	}

	change := models.RowChange{Table: n.Table, Event: n.Event}
	if n.Event == models.ChangeDelete {
		change.Row, _ = json.Marshal(map[string]string{"key": n.Key})
		return change, true
	}

	row, err := s.Loader.LoadRow(ctx, n.Table, n.Key)
	if err != nil {
		// The row may already be gone again; nothing to deliver.
		logger.Debug("change row not loadable", zap.String("table", n.Table), zap.String("key", n.Key), zap.Error(err))
		return models.RowChange{}, false
	}
	change.Row = row
	return change, true
}
