package realtime

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Conn is the part of *nats.Conn the broadcaster uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Broadcaster publishes activity signals over core NATS: at-most-once,
// no retry, no durability.
type Broadcaster struct {
	Conn    Conn
	Subject string
}

func NewBroadcaster(conn Conn, subject string) *Broadcaster {
	return &Broadcaster{Conn: conn, Subject: subject}
}

func (b *Broadcaster) Publish(evt models.ActivityBroadcast) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := b.Conn.Publish(b.Subject, payload); err != nil {
		return errors.Wrap(err, "publish activity")
	}
	return nil
}

// Subscribe calls fn for every activity signal. Undecodable payloads are dropped.
func (b *Broadcaster) Subscribe(fn func(models.ActivityBroadcast)) (unsubscribe func(), err error) {
	sub, err := b.Conn.Subscribe(b.Subject, func(m *nats.Msg) {
		var evt models.ActivityBroadcast
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			logger.Warn("bad activity payload", zap.Error(err))
			return
		}
		fn(evt)
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribe activity")
	}
	return func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}, nil
}
