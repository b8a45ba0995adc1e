package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSlotBusy is returned when another job holds the shop's bulk slot.
var ErrSlotBusy = errors.New("bulk operation slot busy")

// SlotGuard serializes bulk operations per shop and type across processes.
type SlotGuard interface {
	// Acquire reserves the slot. The returned release func must be called
	// once the operation has reached a terminal status.
	Acquire(ctx context.Context, shop string, opType Type) (release func(), err error)
}

// NoopSlot never blocks.
type NoopSlot struct{}

// Acquire implements SlotGuard.
func (NoopSlot) Acquire(context.Context, string, Type) (func(), error) {
	return func() {}, nil
}

// Redis key prefix for slot reservations.
const RedisKeySlotPrefix = "shopify:bulk:slot:"

// DefaultSlotTTL bounds how long a crashed holder can block the slot.
const DefaultSlotTTL = 2 * time.Hour

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSlot reserves the bulk slot with SET NX PX and a random token.
type RedisSlot struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisSlot creates a Redis backed slot guard.
func NewRedisSlot(redisClient *redis.Client, ttl time.Duration) *RedisSlot {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &RedisSlot{
		redis:  redisClient,
		ttl:    ttl,
		logger: log.With().Str("component", "bulk-slot").Logger(),
	}
}

// SlotKey returns the Redis key for a shop's slot.
func SlotKey(shop string, opType Type) string {
	return RedisKeySlotPrefix + strings.ToLower(shop) + ":" + strings.ToLower(string(opType))
}

// Acquire implements SlotGuard.
func (s *RedisSlot) Acquire(ctx context.Context, shop string, opType Type) (func(), error) {
	key := SlotKey(shop, opType)
	token := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire bulk slot %s: %w", key, err)
	}
	if !ok {
		holder, _ := s.redis.Get(ctx, key).Result()
		s.logger.Warn().
			Str("shop", shop).
			Str("holder", holder).
			Msg("Bulk slot busy")
		return nil, &client.Error{
			Class:   client.ClassOperationMismatch,
			Message: fmt.Sprintf("%s bulk slot for %s held by %s", strings.ToLower(string(opType)), shop, holder),
			Err:     ErrSlotBusy,
		}
	}

	s.logger.Debug().Str("shop", shop).Str("token", token).Msg("Bulk slot acquired")

	release := func() {
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, s.redis, []string{key}, token).Err(); err != nil {
			s.logger.Warn().Err(err).Str("shop", shop).Msg("Failed to release bulk slot")
		}
	}
	return release, nil
}
