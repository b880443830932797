package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

// RedisStore keeps the log in a capped list and records in plain keys.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`

	// Prefix namespaces every key, e.g. "voice:".
	Prefix string `yaml:"prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Key helpers
func (s *RedisStore) logKey() string {
	return s.prefix + "error_log"
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + "kv:" + key
}

func (s *RedisStore) AppendLog(ctx context.Context, entry []byte, limit int) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.logKey(), entry)
		if limit > 0 {
			pipe.LTrim(ctx, s.logKey(), int64(-limit), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log: %w", classifyRedis(err))
	}
	return nil
}

func (s *RedisStore) ReadLog(ctx context.Context) ([][]byte, error) {
	vals, err := s.rdb.LRange(ctx, s.logKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", classifyRedis(err))
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) ClearLog(ctx context.Context) error {
	return classifyRedis(s.rdb.Del(ctx, s.logKey()).Err())
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.recordKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", classifyRedis(err))
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.recordKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", classifyRedis(err))
	}
	return nil
}

func (s *RedisStore) ClearCache(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.recordKey(CachePrefix)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", classifyRedis(err))
	}
	if len(keys) == 0 {
		return nil
	}
	return classifyRedis(s.rdb.Del(ctx, keys...).Err())
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// classifyRedis maps an out-of-memory reply onto the storage quota kind.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "OOM") {
		return apperror.Wrap(apperror.KindStorageQuotaExceeded, err, "")
	}
	return err
}
