package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"

	"bggsync/internal/logger"
)

type Options struct {
	Addr     string
	Password string
}

type Service struct {
	client *redisv8.Client
	log    *logger.Logger
}

func New(opts Options) (*Service, error) {
	c := redisv8.NewClient(&redisv8.Options{Addr: opts.Addr, Password: opts.Password})
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Service{client: c, log: logger.New("Redis")}, nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(c *redisv8.Client) *Service {
	return &Service{client: c, log: logger.New("Redis")}
}

func (s *Service) Close() error            { return s.client.Close() }
func (s *Service) Client() *redisv8.Client { return s.client }

// IsMiss reports whether err means the key does not exist.
func IsMiss(err error) bool { return errors.Is(err, redisv8.Nil) }

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.LogErrorf("Redis health check failed: %v", err)
		return fmt.Errorf("redis ping failed: %v", err)
	}

	// Round-trip a short-lived key so a read-only replica shows up as unhealthy.
	testKey := "health:test:" + time.Now().Format("20060102150405")
	testValue := "ok"

	if err := s.client.Set(ctx, testKey, testValue, 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write test failed: %v", err)
	}
	val, err := s.client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis read test failed: %v", err)
	}
	if val != testValue {
		return fmt.Errorf("redis value mismatch: got %s, want %s", val, testValue)
	}
	_ = s.client.Del(ctx, testKey).Err()
	return nil
}

func (s *Service) AsynqRedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.client.Options().Addr, Password: s.client.Options().Password}
}

// Cache helpers
func (s *Service) CacheGet(ctx context.Context, key string, dest interface{}) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func (s *Service) CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, ttl).Err()
}

// ClaimField sets field in hash key only if it is absent, reporting whether
// this call set it.
func (s *Service) ClaimField(ctx context.Context, key, field string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, err
	}
	if ok {
		_ = s.client.Expire(ctx, key, ttl).Err()
	}
	return ok, nil
}

// AppendJSON pushes val onto the list at key and increments the given hash
// counters in one transaction. It returns the counters after the update.
func (s *Service) AppendJSON(ctx context.Context, listKey string, val interface{}, countersKey string, incr []string, ttl time.Duration) (map[string]int64, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var all *redisv8.StringStringMapCmd
	_, err = s.client.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.RPush(ctx, listKey, b)
		p.Expire(ctx, listKey, ttl)
		for _, field := range incr {
			p.HIncrBy(ctx, countersKey, field, 1)
		}
		p.Expire(ctx, countersKey, ttl)
		all = p.HGetAll(ctx, countersKey)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseCounters(all.Val()), nil
}

// maxTxAttempts bounds optimistic retries of UpdateJSON.
const maxTxAttempts = 50

// UpdateJSON rewrites the JSON document at key through fn. The document and
// the counters hash at countersKey are read under WATCH, so the write is
// discarded and fn rerun whenever another client changes either key first.
func (s *Service) UpdateJSON(ctx context.Context, key, countersKey string, ttl time.Duration, fn func(raw []byte, counters map[string]int64) (interface{}, error)) error {
	txf := func(tx *redisv8.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		vals, err := tx.HGetAll(ctx, countersKey).Result()
		if err != nil && !IsMiss(err) {
			return err
		}
		next, err := fn(raw, parseCounters(vals))
		if err != nil {
			return err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
			p.Set(ctx, key, b, ttl)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key, countersKey)
		if !errors.Is(err, redisv8.TxFailedErr) {
			return err
		}
		s.log.LogDebugf("concurrent update of %s, retrying (attempt %d)", key, attempt+1)
	}
	return fmt.Errorf("update %s: %w after %d attempts", key, redisv8.TxFailedErr, maxTxAttempts)
}

// Counters reads a hash of integer counters. Missing keys yield an empty map.
func (s *Service) Counters(ctx context.Context, key string) (map[string]int64, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil && !IsMiss(err) {
		return nil, err
	}
	return parseCounters(vals), nil
}

// ListJSON calls each with every element of the list at key, in order.
func (s *Service) ListJSON(ctx context.Context, key string, each func(raw []byte) error) error {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && !IsMiss(err) {
		return err
	}
	for _, v := range vals {
		if err := each([]byte(v)); err != nil {
			return err
		}
	}
	return nil
}

// Publish notifies listeners on channel. Errors are ignored.
func (s *Service) Publish(ctx context.Context, channel, msg string) {
	_ = s.client.Publish(ctx, channel, msg).Err()
}

func parseCounters(vals map[string]string) map[string]int64 {
	out := make(map[string]int64, len(vals))
	for k, v := range vals {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			out[k] = n
		}
	}
	return out
}
