// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"laststand/internal/models"
)

// DefaultQueueName is the Redis list (queue) name resolved rounds are
// pushed onto for out-of-process consumers.
var DefaultQueueName = "survival_rounds"

// RoundRecord is the minimal projection of a resolved round that leaves the
// process. Credentials and private secrets never appear here.
type RoundRecord struct {
	LobbyCode string         `json:"lobby_code"`
	Epoch     int            `json:"epoch"`
	Narrative string         `json:"narrative"`
	Survivors []string       `json:"survivors"`
	Deaths    []models.Death `json:"deaths"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher pushes round records onto a Redis queue. A nil Publisher on the
// engine disables history entirely.
type Publisher struct {
	Rdb   *redis.Client
	Queue string
}

// Connect dials Redis and returns a Publisher, or an error when the server
// is unreachable.
func Connect(addr string, db int) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Publisher{Rdb: rdb, Queue: DefaultQueueName}, nil
}

// PublishRound serializes a resolved round and RPUSHes it onto the queue.
// Failures are logged, never propagated: history must not affect gameplay.
func (p *Publisher) PublishRound(ctx context.Context, lobbyCode string, epoch int, result *models.RoundResult) {
	rec := RoundRecord{
		LobbyCode: lobbyCode,
		Epoch:     epoch,
		Narrative: result.Narrative,
		Survivors: result.Survivors,
		Deaths:    result.Deaths,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		log.Errorf("cache: failed to marshal round record: %v", err)
		return
	}
	if err := p.Rdb.RPush(ctx, p.Queue, data).Err(); err != nil {
		log.Errorf("cache: failed to RPush to Redis list '%s': %v", p.Queue, err)
	}
}
