package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSlotEmpty indicates nothing has been written to the shared slot yet.
var ErrSlotEmpty = errors.New("liveness slot is empty")

// SlotEntry is the (identifier, timestamp) cell peers overwrite and watch.
type SlotEntry struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Slot is the persistent shared fallback for contexts that miss live
// broadcasts: each context periodically overwrites the cell and treats a
// differing identifier read back the same as a direct announcement.
type Slot interface {
	Write(ctx context.Context, entry SlotEntry) error
	Read(ctx context.Context) (SlotEntry, error)
}

type redisSlot struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSlot builds a Slot over a Redis key scoped to one (exam, student) pair.
func NewRedisSlot(client *redis.Client, examID, studentID uint, ttl time.Duration) Slot {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &redisSlot{
		client: client,
		key:    fmt.Sprintf("liveness:slot:v1:%d:%d", examID, studentID),
		ttl:    ttl,
	}
}

func (s *redisSlot) Write(ctx context.Context, entry SlotEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

func (s *redisSlot) Read(ctx context.Context) (SlotEntry, error) {
	payload, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SlotEntry{}, ErrSlotEmpty
		}
		return SlotEntry{}, err
	}

	var entry SlotEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return SlotEntry{}, err
	}

	return entry, nil
}
