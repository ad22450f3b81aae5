// Package changefeed turns PostgreSQL row-change notifications into
// subscriptions on a named table, optionally filtered by an equality predicate.
package changefeed

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Filter is an equality predicate on one column of the changed row.
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// Match reports whether row[Column] == Value.
func (f Filter) Match(row json.RawMessage) bool {
	if f.Column == "" {
		return true
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// Subscription selects the changes a handler receives. An empty Event
// receives every event type of the table.
type Subscription struct {
	Table  string
	Event  models.ChangeEventType
	Filter Filter
}

func (s Subscription) matches(change models.RowChange) bool {
	if s.Table != change.Table {
		return false
	}
	if s.Event != "" && s.Event != change.Event {
		return false
	}
	return s.Filter.Match(change.Row)
}

type Handler func(models.RowChange)

type subscriber struct {
	sub Subscription
	fn  Handler
}

// Feed fans change events out to subscribers in emission order.
type Feed struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	nextID int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]subscriber)}
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed) Subscribe(sub Subscription, fn Handler) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = subscriber{sub: sub, fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Dispatch delivers change to every matching subscriber, synchronously and in
// subscription order.
func (f *Feed) Dispatch(change models.RowChange) {
	f.mu.RLock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	sort.Ints(ids)

	for _, id := range ids {
		f.mu.RLock()
		s, ok := f.subs[id]
		f.mu.RUnlock()
		if !ok || !s.sub.matches(change) {
			continue
		}
		s.fn(change)
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Run dispatches until ctx is done or src is closed.
func (f *Feed) Run(ctx context.Context, src <-chan models.RowChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-src:
			if !ok {
				return
			}
			logger.Debug("row change", zap.String("table", change.Table), zap.String("event", string(change.Event)))
			f.Dispatch(change)
		}
	}
}
