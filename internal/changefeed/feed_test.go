package changefeed

import (
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) LoadRow(ctx context.Context, table, key string) (json.RawMessage, error) {
	args := m.Called(table, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func rowChange(table string, event models.ChangeEventType, row string) models.RowChange {
	return models.RowChange{Table: table, Event: event, Row: json.RawMessage(row)}
}

func TestFilter_Match(t *testing.T) {
	row := json.RawMessage(`{"chat_id":"A_S","seen":false,"name":"S"}`)

	assert.True(t, Filter{}.Match(row))
	assert.True(t, Filter{Column: "chat_id", Value: "A_S"}.Match(row))
	assert.False(t, Filter{Column: "chat_id", Value: "B_C"}.Match(row))
	assert.True(t, Filter{Column: "seen", Value: "false"}.Match(row))
	assert.False(t, Filter{Column: "missing", Value: ""}.Match(row))
	assert.False(t, Filter{Column: "chat_id", Value: "A_S"}.Match(json.RawMessage(`not json`)))
}

func TestFeed_DispatchHonoursTableEventAndFilter(t *testing.T) {
	feed := NewFeed()

	var inserts, updates, users []models.RowChange
	feed.Subscribe(Subscription{Table: "messages", Event: models.ChangeInsert, Filter: Filter{Column: "chat_id", Value: "A_S"}},
		func(c models.RowChange) { inserts = append(inserts, c) })
	feed.Subscribe(Subscription{Table: "messages", Event: models.ChangeUpdate},
		func(c models.RowChange) { updates = append(updates, c) })
	feed.Subscribe(Subscription{Table: "users"},
		func(c models.RowChange) { users = append(users, c) })

	feed.Dispatch(rowChange("messages", models.ChangeInsert, `{"id":"1","chat_id":"A_S"}`))
	feed.Dispatch(rowChange("messages", models.ChangeInsert, `{"id":"2","chat_id":"other"}`))
	feed.Dispatch(rowChange("messages", models.ChangeUpdate, `{"id":"1","chat_id":"A_S","seen":true}`))
	feed.Dispatch(rowChange("users", models.ChangeUpdate, `{"name":"A"}`))
	feed.Dispatch(rowChange("users", models.ChangeInsert, `{"name":"S"}`))

	require.Len(t, inserts, 1)
	assert.JSONEq(t, `{"id":"1","chat_id":"A_S"}`, string(inserts[0].Row))
	assert.Len(t, updates, 1)
	assert.Len(t, users, 2)
}

func TestFeed_CancelRemovesSubscriber(t *testing.T) {
	feed := NewFeed()
	calls := 0
	cancel := feed.Subscribe(Subscription{Table: "messages"}, func(models.RowChange) { calls++ })
	assert.Equal(t, 1, feed.Subscribers())

	feed.Dispatch(rowChange("messages", models.ChangeInsert, `{}`))
	cancel()
	feed.Dispatch(rowChange("messages", models.ChangeInsert, `{}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, feed.Subscribers())
}

func TestFeed_RunPreservesEmissionOrder(t *testing.T) {
	feed := NewFeed()
	var ids []string
	done := make(chan struct{})
	feed.Subscribe(Subscription{Table: "messages"}, func(c models.RowChange) {
		var row struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(c.Row, &row)
		ids = append(ids, row.ID)
		if len(ids) == 3 {
			close(done)
		}
	})

	src := make(chan models.RowChange, 3)
	src <- rowChange("messages", models.ChangeInsert, `{"id":"a"}`)
	src <- rowChange("messages", models.ChangeInsert, `{"id":"b"}`)
	src <- rowChange("messages", models.ChangeUpdate, `{"id":"c"}`)
	close(src)

	feed.Run(context.Background(), src)
	<-done
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestPQSource_Resolve(t *testing.T) {
	loader := new(mockLoader)
	src := &PQSource{Loader: loader}
	ctx := context.Background()

	loader.On("LoadRow", "messages", "m1").Return(json.RawMessage(`{"id":"m1","seen":true}`), nil)
	loader.On("LoadRow", "messages", "gone").Return(nil, errors.New("not found"))

	change, ok := src.resolve(ctx, `{"table":"messages","event":"UPDATE","key":"m1"}`)
	require.True(t, ok)
	assert.Equal(t, models.ChangeUpdate, change.Event)
	assert.JSONEq(t, `{"id":"m1","seen":true}`, string(change.Row))

	_, ok = src.resolve(ctx, `{"table":"messages","event":"INSERT","key":"gone"}`)
	assert.False(t, ok)

	change, ok = src.resolve(ctx, `{"table":"messages","event":"DELETE","key":"m2"}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"key":"m2"}`, string(change.Row))

	_, ok = src.resolve(ctx, `garbage`)
	assert.False(t, ok)

	loader.AssertExpectations(t)
}
