package chathub

import (
	"calcchat/backend/internal/changefeed"
	"calcchat/backend/internal/conversation"
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/media"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/presence"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrUnknownActivity = errors.New("unknown activity")

// Session bundles the reconciler, stream and media pipeline of one identity.
type Session struct {
	Identity   models.Identity
	Reconciler *presence.Reconciler
	Stream     *conversation.Stream
	Media      *media.Pipeline

	deps Deps

	// lifecycle orders the hub's start and stop requests.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	unsubs []func()
}

func newSession(id models.Identity, deps Deps, emit func(models.ViewEvent)) *Session {
	labels := deps.Labels
	rec := presence.NewReconciler(id, deps.Store, deps.Roster, presence.Options{Labels: &labels, Clock: deps.Clock})
	stream := conversation.NewStream(id, deps.Store, deps.Codes, rec.TargetOnline, emit)

	rec.OnChange(func(v models.PresenceView) {
		emit(models.ViewEvent{Kind: models.EventPresence, Presence: &v})
	})
	rec.OnOnline(stream.UpgradeTicks)

	return &Session{
		Identity:   id,
		Reconciler: rec,
		Stream:     stream,
		Media:      media.NewPipeline(id, deps.Store, stream, deps.MaxUploadBytes),
		deps:       deps,
	}
}

// Running reports whether Start was called without a matching Stop.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start subscribes the session to the change feed, the presence roster and
// the activity channel, then goes visible and loads the history.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	chatFilter := changefeed.Filter{Column: "chat_id", Value: models.ChatID}
	s.unsubs = append(s.unsubs,
		s.deps.Feed.Subscribe(changefeed.Subscription{Table: "messages", Event: models.ChangeInsert, Filter: chatFilter},
			func(c models.RowChange) {
				if msg, ok := decodeMessage(c); ok {
					s.Stream.HandleInsert(sctx, msg)
				}
			}),
		s.deps.Feed.Subscribe(changefeed.Subscription{Table: "messages", Event: models.ChangeUpdate, Filter: chatFilter},
			func(c models.RowChange) {
				if msg, ok := decodeMessage(c); ok {
					s.Stream.HandleUpdate(msg)
				}
			}),
		s.deps.Feed.Subscribe(changefeed.Subscription{Table: "users", Filter: changefeed.Filter{Column: "name", Value: string(s.Identity.Peer())}},
			func(c models.RowChange) {
				var status models.UserStatus
				if err := json.Unmarshal(c.Row, &status); err != nil {
					logger.Warn("bad status row", zap.Error(err))
					return
				}
				s.Reconciler.HandleStatusRow(status)
			}),
	)

	unsubscribe, err := s.deps.Activity.Subscribe(s.Reconciler.HandleActivity)
	if err != nil {
		logger.Warn("activity subscribe failed", zap.String("identity", string(s.Identity)), zap.Error(err))
	} else {
		s.unsubs = append(s.unsubs, unsubscribe)
	}

	if err := s.deps.Roster.OnSync(sctx, s.Reconciler.HandlePresenceSync); err != nil {
		logger.Warn("presence sync subscribe failed", zap.String("identity", string(s.Identity)), zap.Error(err))
	}

	s.Reconciler.Start(sctx)
	go s.Reconciler.Run(sctx)

	if err := s.Stream.Load(sctx); err != nil {
		return errors.Wrapf(err, "load history for %s", s.Identity)
	}
	logger.Info("session started", zap.String("identity", string(s.Identity)))
	return nil
}

// Stop leaves the presence roster and drops every subscription. The session
// can be started again.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Reconciler.Stop(ctx)
	logger.Info("session stopped", zap.String("identity", string(s.Identity)))
}

// SendActivity broadcasts own typing/recording state to the peer.
func (s *Session) SendActivity(t models.ActivityType, status bool) error {
	if !t.Valid() {
		return errors.Wrapf(ErrUnknownActivity, "%q", t)
	}
	return s.deps.Activity.Publish(models.ActivityBroadcast{User: s.Identity, Type: t, Status: status})
}

func decodeMessage(c models.RowChange) (models.Message, bool) {
	var msg models.Message
	if err := json.Unmarshal(c.Row, &msg); err != nil {
		logger.Warn("bad message row", zap.Error(err))
		return msg, false
	}
	return msg, true
}
