// Package ratelimit keeps the per-user failed-login counters behind the
// burst detection rule. Counters live in Redis sorted sets so that every
// analysis replica sees the same window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/health"
)

// keyGraceTTL pads the key expiry past the window so a counter survives
// long enough to be pruned rather than vanishing mid-burst.
const keyGraceTTL = 60 * time.Second

// Store counts login failures per (user, host) pair over a sliding window.
type Store struct {
	client *redis.Client
	window time.Duration
	logger *zap.Logger
	health *health.Tracker
}

// NewStore connects to Redis and verifies the connection before returning.
func NewStore(addr string, window time.Duration, logger *zap.Logger, tracker *health.Tracker) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		tracker.Set(health.ComponentCache, false)
		return nil, errs.Transient("redis connect", err)
	}
	tracker.Set(health.ComponentCache, true)
	logger.Info("connected to redis", zap.String("addr", addr))

	return &Store{
		client: client,
		window: window,
		logger: logger,
		health: tracker,
	}, nil
}

// RecordFailure registers a login failure observed at now and returns the
// number of failures currently inside the window, the new one included.
// The add, prune and count run as one transaction so concurrent consumers
// never act on a half-updated counter. Any Redis failure is transient:
// the event can be retried, and a count of zero is never reported in its
// place.
func (s *Store) RecordFailure(ctx context.Context, userID, hostname, eventID string, now time.Time) (int64, error) {
	key := windowKey(userID, hostname)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.Unix()), Member: eventID})
		// Entries scored exactly at the window boundary still count.
		pipe.ZRemRangeByScore(ctx, key, "0", pruneMax(now, s.window))
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, s.window+keyGraceTTL)
		return nil
	})
	if err != nil {
		s.health.Set(health.ComponentCache, false)
		return 0, errs.Transient("record failed login", err)
	}
	s.health.Set(health.ComponentCache, true)

	return card.Val(), nil
}

// Ping verifies the Redis connection and updates the health tracker.
func (s *Store) Ping(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	s.health.Set(health.ComponentCache, err == nil)
	if err != nil {
		return errs.Transient("redis ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func windowKey(userID, hostname string) string {
	return fmt.Sprintf("failed_logins_zset:%s:%s", userID, hostname)
}

// pruneMax returns the exclusive upper bound for the prune: scores
// strictly below now-window are expired, the boundary itself is kept.
func pruneMax(now time.Time, window time.Duration) string {
	cutoff := now.Unix() - int64(window/time.Second)
	return "(" + strconv.FormatInt(cutoff, 10)
}
