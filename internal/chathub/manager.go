package chathub

import (
	"calcchat/backend/internal/changefeed"
	"calcchat/backend/internal/conversation"
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/presence"
	"calcchat/backend/internal/storage"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Roster is the tracked presence channel as the hub uses it.
type Roster interface {
	presence.Tracker
	OnSync(ctx context.Context, fn func(map[models.Identity]models.PresenceMeta)) error
}

// ActivityBus carries the ephemeral typing/recording signals.
type ActivityBus interface {
	Publish(evt models.ActivityBroadcast) error
	Subscribe(fn func(models.ActivityBroadcast)) (unsubscribe func(), err error)
}

// Deps are the shared collaborators of every session.
type Deps struct {
	Store          storage.Storage
	Codes          conversation.CodeStore
	Roster         Roster
	Activity       ActivityBus
	Feed           *changefeed.Feed
	Labels         presence.Labels
	Clock          presence.Clock
	MaxUploadBytes int64
}

type addressedEvent struct {
	To    models.Identity
	Event models.ViewEvent
}

// ManagerService is the hub: it owns the connected clients and one session per
// identity. Clients only change inside Run.
type ManagerService struct {
	Clients map[models.Identity]map[string]Client

	// Channels
	RegisterCh   chan Client
	UnregisterCh chan Client
	CommandCh    chan models.ClientCommand
	EventsCh     chan addressedEvent

	deps Deps
	done chan struct{}

	mu       sync.Mutex
	sessions map[models.Identity]*Session
	wanted   map[models.Identity]bool
	pending  sync.WaitGroup
}

func NewManagerService(deps Deps) *ManagerService {
	return &ManagerService{
		Clients:      make(map[models.Identity]map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		CommandCh:    make(chan models.ClientCommand, 64),
		EventsCh:     make(chan addressedEvent, 256),
		deps:         deps,
		done:         make(chan struct{}),
		sessions:     make(map[models.Identity]*Session),
		wanted:       make(map[models.Identity]bool),
	}
}

// Done is closed when Run returns.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

// Session returns the session of id, creating it on first use. A session
// created here is not started; it starts with its first client.
func (m *ManagerService) Session(id models.Identity) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, m.deps, func(ev models.ViewEvent) { m.Emit(id, ev) })
	m.sessions[id] = s
	return s
}

// Emit queues a view event for the clients of id. It never blocks; when the
// queue is full the event is dropped.
func (m *ManagerService) Emit(id models.Identity, ev models.ViewEvent) {
	select {
	case m.EventsCh <- addressedEvent{To: id, Event: ev}:
	default:
		logger.Warn("event queue full, dropping", zap.String("identity", string(id)), zap.String("kind", string(ev.Kind)))
	}
}

// Run is the hub loop. It stops every session when ctx is done.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	logger.Info("chat hub started")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return

		case client := <-m.RegisterCh:
			m.register(ctx, client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case cmd := <-m.CommandCh:
			go m.handleCommand(ctx, cmd)

		case ev := <-m.EventsCh:
			m.deliver(ev)
		}
	}
}

func (m *ManagerService) register(ctx context.Context, client Client) {
	id := client.GetIdentity()
	if m.Clients[id] == nil {
		m.Clients[id] = make(map[string]Client)
	}
	m.Clients[id][client.GetClientID()] = client
	logger.Info("client registered", zap.String("identity", string(id)), zap.String("client", client.GetClientID()))

	if len(m.Clients[id]) == 1 {
		m.want(ctx, id, true)
	}
}

// want records whether id should have a running session and applies it off
// the loop. Start and stop hit the network, so they must not stall delivery.
func (m *ManagerService) want(ctx context.Context, id models.Identity, running bool) {
	m.mu.Lock()
	m.wanted[id] = running
	m.mu.Unlock()

	m.pending.Add(1)
	go m.syncSession(ctx, id)
}

// syncSession brings the session of id to the latest wanted state. Runs for
// one identity are serialized, so the last one always sees the final state.
func (m *ManagerService) syncSession(ctx context.Context, id models.Identity) {
	defer m.pending.Done()
	s := m.Session(id)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	m.mu.Lock()
	running := m.wanted[id]
	m.mu.Unlock()

	if !running {
		s.Stop()
		return
	}
	if s.Running() || ctx.Err() != nil {
		return
	}
	if err := s.Start(ctx); err != nil {
		logger.Error("session start failed", zap.String("identity", string(id)), zap.Error(err))
		m.Emit(id, models.ViewEvent{Kind: models.EventError, Error: err.Error()})
	}
}

// unregister drops a client; the last client of an identity stops its session,
// which then counts as hidden.
func (m *ManagerService) unregister(client Client) {
	id := client.GetIdentity()
	clients, ok := m.Clients[id]
	if !ok {
		return
	}
	if _, ok := clients[client.GetClientID()]; !ok {
		return
	}
	delete(clients, client.GetClientID())
	client.Close()
	logger.Info("client unregistered", zap.String("identity", string(id)), zap.String("client", client.GetClientID()))

	if len(clients) == 0 {
		delete(m.Clients, id)
		m.want(context.Background(), id, false)
	}
}

func (m *ManagerService) deliver(ev addressedEvent) {
	for cid, client := range m.Clients[ev.To] {
		select {
		case client.GetSendChannel() <- ev.Event:
		default:
			logger.Warn("slow client dropped", zap.String("identity", string(ev.To)), zap.String("client", cid))
			m.unregister(client)
		}
	}
}

func (m *ManagerService) handleCommand(ctx context.Context, cmd models.ClientCommand) {
	s := m.Session(cmd.Identity)
	switch cmd.Action {
	case "activity":
		if err := s.SendActivity(cmd.Type, cmd.Status); err != nil {
			logger.Warn("activity publish failed", zap.String("identity", string(cmd.Identity)), zap.Error(err))
		}
	case "visibility":
		s.Reconciler.SetVisible(ctx, cmd.Visible)
	case "refresh":
		if err := s.Reconciler.Refresh(ctx); err != nil {
			m.Emit(cmd.Identity, models.ViewEvent{Kind: models.EventError, Error: err.Error()})
			return
		}
		v := s.Reconciler.View()
		m.Emit(cmd.Identity, models.ViewEvent{Kind: models.EventPresence, Presence: &v})
	default:
		logger.Warn("unknown client command", zap.String("action", cmd.Action))
	}
}

func (m *ManagerService) shutdown() {
	for id, clients := range m.Clients {
		for _, c := range clients {
			c.Close()
		}
		delete(m.Clients, id)
	}
	m.pending.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
	logger.Info("chat hub stopped")
}
