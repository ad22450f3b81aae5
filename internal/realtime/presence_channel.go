// Package realtime holds the ephemeral channels: tracked presence on Redis and
// activity broadcasts on NATS. Nothing here is durable.
package realtime

import (
	"calcchat/backend/internal/logger"
	"calcchat/backend/internal/models"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPresenceTTL bounds how long a tracked key outlives its last refresh.
const DefaultPresenceTTL = 30 * time.Second

// PresenceChannel is a join/leave roster shared by every session.
// presence key: presence:<room>:<identity>, value: PresenceMeta JSON.
type PresenceChannel struct {
	Redis *redis.Client
	Room  string
	TTL   time.Duration
}

func NewPresenceChannel(rdb *redis.Client, room string, ttl time.Duration) *PresenceChannel {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceChannel{Redis: rdb, Room: room, TTL: ttl}
}

func (p *PresenceChannel) memberKey(id models.Identity) string {
	return "presence:" + p.Room + ":" + string(id)
}

func (p *PresenceChannel) syncChannel() string {
	return "presence:" + p.Room + ":sync"
}

// Track adds meta.User to the roster and announces a sync.
func (p *PresenceChannel) Track(ctx context.Context, meta models.PresenceMeta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := p.Redis.Set(ctx, p.memberKey(meta.User), payload, p.TTL).Err(); err != nil {
		return errors.Wrapf(err, "track %s", meta.User)
	}
	return p.announce(ctx)
}

// Untrack removes id from the roster and announces a sync.
func (p *PresenceChannel) Untrack(ctx context.Context, id models.Identity) error {
	if err := p.Redis.Del(ctx, p.memberKey(id)).Err(); err != nil {
		return errors.Wrapf(err, "untrack %s", id)
	}
	return p.announce(ctx)
}

// Refresh extends the TTL of a tracked key. A key that already expired is
// tracked again, which announces a sync.
func (p *PresenceChannel) Refresh(ctx context.Context, meta models.PresenceMeta) error {
	ok, err := p.Redis.Expire(ctx, p.memberKey(meta.User), p.TTL).Result()
	if err != nil {
		return errors.Wrapf(err, "refresh %s", meta.User)
	}
	if !ok {
		return p.Track(ctx, meta)
	}
	return nil
}

func (p *PresenceChannel) announce(ctx context.Context) error {
	if err := p.Redis.Publish(ctx, p.syncChannel(), "sync").Err(); err != nil {
		return errors.Wrap(err, "announce presence sync")
	}
	return nil
}

// Snapshot returns the current roster.
func (p *PresenceChannel) Snapshot(ctx context.Context) (map[models.Identity]models.PresenceMeta, error) {
	prefix := "presence:" + p.Room + ":"
	roster := make(map[models.Identity]models.PresenceMeta)

	iter := p.Redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == p.syncChannel() {
			continue
		}
		val, err := p.Redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read presence key %s", key)
		}
		var meta models.PresenceMeta
		if err := json.Unmarshal([]byte(val), &meta); err != nil {
			logger.Warn("bad presence meta", zap.String("key", key), zap.Error(err))
			continue
		}
		roster[models.Identity(strings.TrimPrefix(key, prefix))] = meta
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan presence roster")
	}
	return roster, nil
}

// OnSync calls fn with a fresh roster once right after subscribing and then on
// every announced sync, until ctx is done.
func (p *PresenceChannel) OnSync(ctx context.Context, fn func(map[models.Identity]models.PresenceMeta)) error {
	sub := p.Redis.Subscribe(ctx, p.syncChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "subscribe presence sync")
	}

	deliver := func() {
		roster, err := p.Snapshot(ctx)
		if err != nil {
			logger.Warn("presence snapshot failed", zap.Error(err))
			return
		}
		fn(roster)
	}

	go func() {
		defer sub.Close()
		deliver()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return nil
}
