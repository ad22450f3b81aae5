// Package conversation keeps one identity's view of the two-party message
// stream: idempotent rendering, seen-marking, tick markers and the control
// messages that ride along with the chat rows.
package conversation

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/vault"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrEmptyMessage = errors.New("message is empty")
)

// Store is the message side of the remote store.
type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	MarkSeen(ctx context.Context, receiver models.Identity) (int64, error)
	DeleteMessages(ctx context.Context, chatID string, types []models.MessageType) (int64, error)
}

// CodeStore receives the unlock codes synced through control messages.
type CodeStore interface {
	Set(ctx context.Context, key, code string, at time.Time) (bool, error)
}

type controlHandler func(ctx context.Context, msg models.Message)

type Stream struct {
	me    models.Identity
	peer  models.Identity
	store Store
	codes CodeStore

	profiles   *ProfileCache
	peerOnline func() bool
	emit       func(models.ViewEvent)
	controls   map[models.MessageType]controlHandler

	mu       sync.Mutex
	order    []string
	rendered map[string]*models.MessageView
	// arrived records the render sequence of each id; seq is the last one handed out.
	arrived map[string]uint64
	seq     uint64
}

// NewStream builds the stream of identity me. peerOnline feeds the tick
// derivation; emit receives view events and must not block.
func NewStream(me models.Identity, store Store, codes CodeStore, peerOnline func() bool, emit func(models.ViewEvent)) *Stream {
	if peerOnline == nil {
		peerOnline = func() bool { return false }
	}
	if emit == nil {
		emit = func(models.ViewEvent) {}
	}
	s := &Stream{
		me:         me,
		peer:       me.Peer(),
		store:      store,
		codes:      codes,
		profiles:   NewProfileCache(),
		peerOnline: peerOnline,
		emit:       emit,
		rendered:   make(map[string]*models.MessageView),
		arrived:    make(map[string]uint64),
	}
	s.controls = map[models.MessageType]controlHandler{
		models.MessageProfilePic:         s.applyProfilePic,
		models.MessageCalculatorPassword: s.syncCode(vault.KeyCalculator),
		models.MessageUserAPassword:      s.syncCode(vault.KeyUserA),
	}
	return s
}

func (s *Stream) Me() models.Identity { return s.me }

func (s *Stream) Profiles() *ProfileCache { return s.profiles }

// Load merges the stored history into the view and marks received rows seen.
// Rows the live feed rendered while the history was being read are kept;
// older rows missing from the history are dropped.
func (s *Stream) Load(ctx context.Context) error {
	s.mu.Lock()
	start := s.seq
	s.mu.Unlock()

	msgs, err := s.store.ListMessages(ctx, models.ChatID)
	if err != nil {
		return err
	}
	online := s.peerOnline()

	var renderable []models.Message
	for _, m := range msgs {
		if m.Type.IsControl() {
			s.dispatch(ctx, m)
			continue
		}
		renderable = append(renderable, m)
	}

	s.mu.Lock()
	s.mergeLocked(renderable, online, start)
	s.mu.Unlock()

	s.markSeen(ctx)
	return nil
}

func (s *Stream) mergeLocked(history []models.Message, peerOnline bool, start uint64) {
	next := make(map[string]*models.MessageView, len(history))
	arrived := make(map[string]uint64, len(history))
	for _, m := range history {
		mv := &models.MessageView{Message: m, Tick: s.tick(m, peerOnline)}
		if prev, ok := s.rendered[m.ID]; ok {
			mv.Tick = prev.Tick.Advance(mv.Tick)
			arrived[m.ID] = s.arrived[m.ID]
		} else {
			arrived[m.ID] = s.seq
		}
		next[m.ID] = mv
	}
	for id, mv := range s.rendered {
		if _, ok := next[id]; ok || s.arrived[id] <= start {
			continue
		}
		next[id] = mv
		arrived[id] = s.arrived[id]
	}

	order := make([]string, 0, len(next))
	for id := range next {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := next[order[i]], next[order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	s.order = order
	s.rendered = next
	s.arrived = arrived
}

// HandleInsert applies a new message row from the change feed. A row whose id
// is already rendered is ignored.
func (s *Stream) HandleInsert(ctx context.Context, msg models.Message) {
	if msg.ChatID != models.ChatID {
		return
	}
	if msg.Type.IsControl() {
		s.dispatch(ctx, msg)
		return
	}

	online := s.peerOnline()
	s.mu.Lock()
	mv, added := s.appendLocked(msg, online)
	s.mu.Unlock()
	if !added {
		return
	}
	s.emit(models.ViewEvent{Kind: models.EventMessage, Message: &mv})

	if msg.Receiver == s.me {
		go s.markSeen(context.WithoutCancel(ctx))
	}
}

// HandleUpdate moves the tick of an own message to seen once its row says so.
func (s *Stream) HandleUpdate(msg models.Message) {
	if !msg.Seen {
		return
	}

	s.mu.Lock()
	mv, ok := s.rendered[msg.ID]
	if !ok || mv.Sender != s.me || mv.Tick == models.TickSeen {
		s.mu.Unlock()
		return
	}
	mv.Seen = true
	mv.Tick = mv.Tick.Advance(models.TickSeen)
	out := *mv
	s.mu.Unlock()

	s.emit(models.ViewEvent{Kind: models.EventTick, Message: &out})
}

// UpgradeTicks marks every own sent-only message as delivered to a connected peer.
func (s *Stream) UpgradeTicks() {
	var changed []models.MessageView

	s.mu.Lock()
	for _, id := range s.order {
		mv := s.rendered[id]
		if mv.Sender != s.me || mv.Tick != models.TickSent {
			continue
		}
		mv.Tick = mv.Tick.Advance(models.TickOnline)
		changed = append(changed, *mv)
	}
	s.mu.Unlock()

	for i := range changed {
		s.emit(models.ViewEvent{Kind: models.EventTick, Message: &changed[i]})
	}
}

// Messages returns the rendered conversation in order.
func (s *Stream) Messages() []models.MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MessageView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.rendered[id])
	}
	return out
}

func (s *Stream) appendLocked(msg models.Message, peerOnline bool) (models.MessageView, bool) {
	if _, ok := s.rendered[msg.ID]; ok {
		return models.MessageView{}, false
	}
	mv := &models.MessageView{Message: msg, Tick: s.tick(msg, peerOnline)}
	s.seq++
	s.rendered[msg.ID] = mv
	s.arrived[msg.ID] = s.seq
	s.order = append(s.order, msg.ID)
	return *mv, true
}

// tick: seen, then peer online, then sent. Only own messages carry one.
func (s *Stream) tick(msg models.Message, peerOnline bool) models.TickState {
	if msg.Sender != s.me {
		return models.TickNone
	}
	switch {
	case msg.Seen:
		return models.TickSeen
	case peerOnline:
		return models.TickOnline
	default:
		return models.TickSent
	}
}

func (s *Stream) markSeen(ctx context.Context) {
	n, err := s.store.MarkSeen(ctx, s.me)
	if err != nil {
		logger.Warn("seen marking failed", zap.String("receiver", string(s.me)), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Debug("messages marked seen", zap.String("receiver", string(s.me)), zap.Int64("count", n))
	}
}

func (s *Stream) dispatch(ctx context.Context, msg models.Message) {
	if h, ok := s.controls[msg.Type]; ok {
		h(ctx, msg)
	}
}

func (s *Stream) applyProfilePic(_ context.Context, msg models.Message) {
	s.ApplyProfile(msg.Sender, msg.Content, msg.CreatedAt)
}

// ApplyProfile updates the profile cache and emits the new set on change.
func (s *Stream) ApplyProfile(id models.Identity, url string, at time.Time) {
	if !s.profiles.Apply(id, url, at) {
		return
	}
	s.emit(models.ViewEvent{Kind: models.EventProfile, Profiles: s.profiles.Snapshot()})
}

func (s *Stream) syncCode(key string) controlHandler {
	return func(ctx context.Context, msg models.Message) {
		if s.codes == nil {
			return
		}
		if _, err := s.codes.Set(ctx, key, msg.Content, msg.CreatedAt); err != nil {
			logger.Warn("code sync failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// SendText inserts a text message to the peer and renders it right away.
func (s *Stream) SendText(ctx context.Context, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	msg := &models.Message{
		ChatID:   models.ChatID,
		Sender:   s.me,
		Receiver: s.peer,
		Type:     models.MessageText,
		Content:  content,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.HandleInsert(ctx, *msg)
	return msg, nil
}

// ClearHistory deletes the renderable rows of the chat. Control rows stay.
func (s *Stream) ClearHistory(ctx context.Context) error {
	if _, err := s.store.DeleteMessages(ctx, models.ChatID, models.RenderableTypes); err != nil {
		return err
	}
	s.mu.Lock()
	s.order = s.order[:0]
	s.rendered = make(map[string]*models.MessageView)
	s.arrived = make(map[string]uint64)
	s.mu.Unlock()

	s.emit(models.ViewEvent{Kind: models.EventCleared})
	return nil
}

func (s *Stream) ChangeCalculatorPassword(ctx context.Context, code string) error {
	return s.changeCode(ctx, vault.KeyCalculator, models.MessageCalculatorPassword, code)
}

// ChangeUserAPassword is reserved to identity A.
func (s *Stream) ChangeUserAPassword(ctx context.Context, code string) error {
	if s.me != models.IdentityA {
		return ErrForbidden
	}
	return s.changeCode(ctx, vault.KeyUserA, models.MessageUserAPassword, code)
}

// changeCode stores the code locally first, then syncs it to the other device
// through a control message.
func (s *Stream) changeCode(ctx context.Context, key string, t models.MessageType, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return vault.ErrEmptyCode
	}
	if s.codes != nil {
		if _, err := s.codes.Set(ctx, key, code, time.Now()); err != nil {
			return err
		}
	}

	msg := &models.Message{
		ChatID:   models.ChatID,
		Sender:   s.me,
		Receiver: s.peer,
		Type:     t,
		Content:  code,
		Seen:     true,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return errors.Wrap(err, "updated locally, failed to sync")
	}
	return nil
}
