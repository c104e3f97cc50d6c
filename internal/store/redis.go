package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// RedisStream is a StreamStore backed by Redis. Each room's log lives in a
// sorted set scored by the commit timestamp; live tails ride the room's
// pub/sub channel. Message JSON serializes the ULID first, so members with
// equal scores sort by ID and the set order matches (CreatedAt, ID).
type RedisStream struct {
	client *redis.Client

	mu     sync.Mutex
	lastTs int64
}

// NewRedisStream connects to Redis and verifies the connection.
func NewRedisStream(ctx context.Context, redisURL string) (*RedisStream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStream{client: client}, nil
}

func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

func roomFeedKey(roomID string) string {
	return fmt.Sprintf("room:%s:feed", roomID)
}

func (s *RedisStream) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	// The whole commit runs under the mutex so publish order matches
	// commit order. Subscribers fence on their cursor; a publish arriving
	// behind a higher cursor would be dropped for good.
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.lastTs {
		now = s.lastTs
	}
	s.lastTs = now

	m := *msg
	m.CreatedAt = now
	m.ID = NewMessageID(time.UnixMilli(now))

	data, err := json.Marshal(&m)
	if err != nil {
		return nil, err
	}

	key := roomMessagesKey(m.RoomID)
	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(m.CreatedAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return nil, err
	}

	// Publish after the append is durable so tailing subscribers never see
	// a message that is not yet in the set.
	if err := s.client.Publish(ctx, roomFeedKey(m.RoomID), string(data)).Err(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStream) List(ctx context.Context, roomID string, after models.Cursor, limit int) ([]models.Message, error) {
	min := "-inf"
	if !after.IsZero() {
		// Inclusive from the cursor's millisecond; same-millisecond
		// messages are filtered below by the ID tiebreak.
		min = fmt.Sprintf("%d", after.CreatedAt)
	}

	results, err := s.client.ZRangeByScore(ctx, roomMessagesKey(roomID), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	var msgs []models.Message
	for _, data := range results {
		var m models.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		if !after.IsZero() && !after.Before(&m) {
			continue
		}
		msgs = append(msgs, m)
		if limit > 0 && len(msgs) == limit {
			break
		}
	}
	return msgs, nil
}

func (s *RedisStream) Watch(ctx context.Context, roomID string, after models.Cursor) (<-chan models.StreamEvent, func(), error) {
	sub := s.client.Subscribe(ctx, roomFeedKey(roomID))
	// Confirm the subscription before reading the backlog, so nothing
	// committed in between can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	f := newFeed[models.StreamEvent]()
	go func() {
		cursor := after
		backlog, err := s.List(ctx, roomID, after, 0)
		if err != nil {
			f.push(models.StreamEvent{Err: err})
			f.close()
			sub.Close()
			return
		}
		for i := range backlog {
			m := backlog[i]
			f.push(models.StreamEvent{Message: &m})
			cursor = m.Cursor()
		}

		for payload := range sub.Channel() {
			var m models.Message
			if err := json.Unmarshal([]byte(payload.Payload), &m); err != nil {
				continue
			}
			// Fence against messages already delivered from the backlog.
			if !cursor.IsZero() && !cursor.Before(&m) {
				continue
			}
			cursor = m.Cursor()
			f.push(models.StreamEvent{Message: &m})
		}
		// The pub/sub channel closes on cancel or connection loss. On
		// cancel the feed is already closed and the push is a no-op.
		f.push(models.StreamEvent{Err: fmt.Errorf("message feed for room %s disconnected", roomID)})
		f.close()
	}()

	cancel := func() {
		f.close()
		sub.Close()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return f.out, cancel, nil
}

func (s *RedisStream) DeleteRoomMessages(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomMessagesKey(roomID)).Err()
}

func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}
