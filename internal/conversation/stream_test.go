package conversation_test

import (
	"calcchat/backend/internal/conversation"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/vault"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a testify double of conversation.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStore) MarkSeen(ctx context.Context, receiver models.Identity) (int64, error) {
	args := m.Called(receiver)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteMessages(ctx context.Context, chatID string, types []models.MessageType) (int64, error) {
	args := m.Called(chatID, types)
	return args.Get(0).(int64), args.Error(1)
}

type codeWrite struct {
	Key  string
	Code string
	At   time.Time
}

type fakeCodes struct {
	mu     sync.Mutex
	writes []codeWrite
	err    error
}

func (f *fakeCodes) Set(ctx context.Context, key, code string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.writes = append(f.writes, codeWrite{key, code, at})
	return true, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.ViewEvent
}

func (r *recorder) emit(e models.ViewEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []models.ViewEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ViewEventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, from models.Identity, typ models.MessageType, content string, at time.Duration) models.Message {
	return models.Message{
		ID:        id,
		ChatID:    models.ChatID,
		Sender:    from,
		Receiver:  from.Peer(),
		Type:      typ,
		Content:   content,
		CreatedAt: t0.Add(at),
	}
}

func newStream(me models.Identity, online bool) (*conversation.Stream, *MockStore, *fakeCodes, *recorder) {
	store := new(MockStore)
	codes := &fakeCodes{}
	rec := &recorder{}
	s := conversation.NewStream(me, store, codes, func() bool { return online }, rec.emit)
	return s, store, codes, rec
}

func TestStream_LoadPartitionsAndMarksSeen(t *testing.T) {
	s, store, codes, _ := newStream(models.IdentityS, false)
	store.On("ListMessages", models.ChatID).Return([]models.Message{
		msg("1", models.IdentityA, models.MessageText, "hi", 0),
		msg("2", models.IdentityA, models.MessageProfilePic, "http://x/a.jpg", time.Second),
		msg("3", models.IdentityS, models.MessageImage, "http://x/img.jpg", 2*time.Second),
		msg("4", models.IdentityA, models.MessageCalculatorPassword, "999", 3*time.Second),
	}, nil)
	store.On("MarkSeen", models.IdentityS).Return(int64(1), nil)

	require.NoError(t, s.Load(context.Background()))

	views := s.Messages()
	require.Len(t, views, 2)
	assert.Equal(t, "1", views[0].ID)
	assert.Equal(t, models.TickNone, views[0].Tick, "incoming messages carry no tick")
	assert.Equal(t, "3", views[1].ID)
	assert.Equal(t, models.TickSent, views[1].Tick)

	assert.Equal(t, "http://x/a.jpg", s.Profiles().Get(models.IdentityA))
	require.Len(t, codes.writes, 1)
	assert.Equal(t, codeWrite{vault.KeyCalculator, "999", t0.Add(3 * time.Second)}, codes.writes[0])
	store.AssertCalled(t, "MarkSeen", models.IdentityS)
}

func TestStream_LoadError(t *testing.T) {
	s, store, _, _ := newStream(models.IdentityS, false)
	store.On("ListMessages", models.ChatID).Return(nil, errors.New("db down"))
	assert.EqualError(t, s.Load(context.Background()), "db down")
}

func TestStream_DuplicateInsertRenderedOnce(t *testing.T) {
	s, store, _, rec := newStream(models.IdentityA, false)
	m := msg("42", models.IdentityA, models.MessageText, "hello", 0)

	s.HandleInsert(context.Background(), m)
	s.HandleInsert(context.Background(), m)

	assert.Len(t, s.Messages(), 1)
	assert.Equal(t, []models.ViewEventKind{models.EventMessage}, rec.kinds())
	store.AssertNotCalled(t, "MarkSeen", mock.Anything)
}

func TestStream_InsertFromOtherChatIgnored(t *testing.T) {
	s, _, _, rec := newStream(models.IdentityA, false)
	m := msg("1", models.IdentityS, models.MessageText, "hi", 0)
	m.ChatID = "B_C"

	s.HandleInsert(context.Background(), m)
	assert.Empty(t, s.Messages())
	assert.Empty(t, rec.kinds())
}

func TestStream_HiScenario(t *testing.T) {
	// S receives "hi" from A and issues the bulk seen-mark.
	sStream, sStore, _, _ := newStream(models.IdentityS, true)
	marked := make(chan struct{})
	sStore.On("MarkSeen", models.IdentityS).Return(int64(1), nil).Run(func(mock.Arguments) { close(marked) })

	hi := msg("hi-1", models.IdentityA, models.MessageText, "hi", 0)
	sStream.HandleInsert(context.Background(), hi)

	select {
	case <-marked:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not mark seen")
	}

	// A rendered its own "hi" while S was offline, then receives the update.
	aStream, _, _, rec := newStream(models.IdentityA, false)
	aStream.HandleInsert(context.Background(), hi)
	assert.Equal(t, models.TickSent, aStream.Messages()[0].Tick)

	hi.Seen = true
	aStream.HandleUpdate(hi)
	assert.Equal(t, models.TickSeen, aStream.Messages()[0].Tick)
	assert.Equal(t, []models.ViewEventKind{models.EventMessage, models.EventTick}, rec.kinds())

	// A late peer-online edge never moves a seen tick backwards.
	aStream.UpgradeTicks()
	assert.Equal(t, models.TickSeen, aStream.Messages()[0].Tick)
	assert.Len(t, rec.kinds(), 2)
}

func TestStream_UpgradeTicksOnlyTouchesOwnSent(t *testing.T) {
	s, _, _, rec := newStream(models.IdentityA, false)
	ctx := context.Background()

	s.HandleInsert(ctx, msg("own", models.IdentityA, models.MessageText, "a", 0))
	seen := msg("own-seen", models.IdentityA, models.MessageText, "b", time.Second)
	seen.Seen = true
	s.HandleInsert(ctx, seen)

	s.UpgradeTicks()
	views := s.Messages()
	assert.Equal(t, models.TickOnline, views[0].Tick)
	assert.Equal(t, models.TickSeen, views[1].Tick)
	assert.Equal(t, []models.ViewEventKind{models.EventMessage, models.EventMessage, models.EventTick}, rec.kinds())
}

func TestStream_TickUsesPeerOnlineAtRenderTime(t *testing.T) {
	s, _, _, _ := newStream(models.IdentityA, true)
	s.HandleInsert(context.Background(), msg("1", models.IdentityA, models.MessageText, "a", 0))
	assert.Equal(t, models.TickOnline, s.Messages()[0].Tick)
}

func TestStream_OutOfOrderProfilePicsKeepLatestCreatedAt(t *testing.T) {
	s, _, _, rec := newStream(models.IdentityS, false)
	ctx := context.Background()

	newer := msg("p2", models.IdentityA, models.MessageProfilePic, "http://x/new.jpg", 10*time.Second)
	older := msg("p1", models.IdentityA, models.MessageProfilePic, "http://x/old.jpg", 5*time.Second)

	s.HandleInsert(ctx, newer)
	s.HandleInsert(ctx, older)

	assert.Equal(t, "http://x/new.jpg", s.Profiles().Get(models.IdentityA))
	assert.Equal(t, []models.ViewEventKind{models.EventProfile}, rec.kinds())
	assert.Empty(t, s.Messages(), "control messages are never rendered")
}

func TestStream_SendText(t *testing.T) {
	s, store, _, _ := newStream(models.IdentityS, false)
	store.On("InsertMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Sender == models.IdentityS && m.Receiver == models.IdentityA &&
			m.Type == models.MessageText && !m.Seen && m.Content == "yo"
	})).Return(nil).Run(func(args mock.Arguments) {
		m := args.Get(0).(*models.Message)
		m.ID = "new-id"
		m.CreatedAt = t0
	})

	out, err := s.SendText(context.Background(), "yo")
	require.NoError(t, err)
	assert.Equal(t, "new-id", out.ID)
	require.Len(t, s.Messages(), 1)

	// the change feed echo is deduplicated
	s.HandleInsert(context.Background(), *out)
	assert.Len(t, s.Messages(), 1)

	_, err = s.SendText(context.Background(), "   ")
	assert.ErrorIs(t, err, conversation.ErrEmptyMessage)
}

func TestStream_SendTextError(t *testing.T) {
	s, store, _, _ := newStream(models.IdentityS, false)
	store.On("InsertMessage", mock.Anything).Return(errors.New("insert failed"))

	_, err := s.SendText(context.Background(), "yo")
	assert.EqualError(t, err, "insert failed")
	assert.Empty(t, s.Messages())
}

func TestStream_ClearHistoryKeepsControlTypes(t *testing.T) {
	s, store, _, rec := newStream(models.IdentityA, false)
	s.HandleInsert(context.Background(), msg("1", models.IdentityA, models.MessageText, "a", 0))
	store.On("DeleteMessages", models.ChatID, models.RenderableTypes).Return(int64(1), nil)

	require.NoError(t, s.ClearHistory(context.Background()))
	assert.Empty(t, s.Messages())
	assert.Equal(t, models.EventCleared, rec.kinds()[len(rec.kinds())-1])
}

func TestStream_ChangePasswords(t *testing.T) {
	ctx := context.Background()

	a, store, codes, _ := newStream(models.IdentityA, false)
	store.On("InsertMessage", mock.MatchedBy(func(m *models.Message) bool {
		return m.Type == models.MessageUserAPassword && m.Seen && m.Content == "777"
	})).Return(nil)
	require.NoError(t, a.ChangeUserAPassword(ctx, "777"))
	require.Len(t, codes.writes, 1)
	assert.Equal(t, vault.KeyUserA, codes.writes[0].Key)

	sStream, sStore, sCodes, _ := newStream(models.IdentityS, false)
	assert.ErrorIs(t, sStream.ChangeUserAPassword(ctx, "777"), conversation.ErrForbidden)
	assert.Empty(t, sCodes.writes)

	sStore.On("InsertMessage", mock.Anything).Return(errors.New("offline"))
	err := sStream.ChangeCalculatorPassword(ctx, "31415")
	assert.EqualError(t, err, "updated locally, failed to sync: offline")
	require.Len(t, sCodes.writes, 1, "the local write happens before the sync")
	assert.Equal(t, vault.KeyCalculator, sCodes.writes[0].Key)
}

func TestStream_LoadKeepsRowsRenderedDuringRead(t *testing.T) {
	store := new(MockStore)
	s := conversation.NewStream(models.IdentityA, store, &fakeCodes{}, nil, nil)
	ctx := context.Background()

	first := msg("m1", models.IdentityS, models.MessageText, "one", 0)
	live := msg("m2", models.IdentityA, models.MessageText, "two", time.Second)
	store.On("ListMessages", models.ChatID).
		Run(func(mock.Arguments) { s.HandleInsert(ctx, live) }).
		Return([]models.Message{first}, nil)
	store.On("MarkSeen", models.IdentityA).Return(int64(0), nil)

	require.NoError(t, s.Load(ctx))

	views := s.Messages()
	require.Len(t, views, 2)
	assert.Equal(t, "m1", views[0].ID)
	assert.Equal(t, "m2", views[1].ID, "ordered by created_at")
}

func TestStream_LoadDropsRowsGoneFromHistory(t *testing.T) {
	s, store, _, _ := newStream(models.IdentityA, false)
	ctx := context.Background()

	s.HandleInsert(ctx, msg("gone", models.IdentityA, models.MessageText, "x", 0))
	store.On("ListMessages", models.ChatID).Return([]models.Message{
		msg("kept", models.IdentityA, models.MessageText, "y", time.Second),
	}, nil)
	store.On("MarkSeen", models.IdentityA).Return(int64(0), nil)

	require.NoError(t, s.Load(ctx))

	views := s.Messages()
	require.Len(t, views, 1)
	assert.Equal(t, "kept", views[0].ID)
}

func TestStream_ReloadNeverMovesTickBack(t *testing.T) {
	store := new(MockStore)
	online := true
	var mu sync.Mutex
	peerOnline := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return online
	}
	s := conversation.NewStream(models.IdentityA, store, &fakeCodes{}, peerOnline, nil)
	ctx := context.Background()

	own := msg("1", models.IdentityA, models.MessageText, "a", 0)
	s.HandleInsert(ctx, own)
	require.Equal(t, models.TickOnline, s.Messages()[0].Tick)

	mu.Lock()
	online = false
	mu.Unlock()
	store.On("ListMessages", models.ChatID).Return([]models.Message{own}, nil)
	store.On("MarkSeen", models.IdentityA).Return(int64(0), nil)

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, models.TickOnline, s.Messages()[0].Tick)
}
