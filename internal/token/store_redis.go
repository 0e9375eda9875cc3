package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token list under a single key so a SET replaces the
// whole list atomically, preserving the same wholesale-replacement contract
// as the file store. The value keeps the line-oriented format, comments
// included, so operators can copy content between backends verbatim.
type RedisStore struct {
	client *redis.Client
	key    string
	name   string
}

// RedisStoreConfig configures a Redis-backed token store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "k2api"
	}

	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		key:    cfg.Prefix + ":tokens",
		name:   "redis:" + cfg.Addr + "/" + cfg.Prefix,
	}, nil
}

func (s *RedisStore) Name() string { return s.name }

// Load reads the token list key. A missing key yields an empty list, not an
// error, mirroring an empty tokens file.
func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tokens key: %w", err)
	}
	return ParseLines(data), nil
}

// Replace overwrites the token list in a single SET.
func (s *RedisStore) Replace(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("refusing to replace %s with an empty token list", s.key)
	}
	if err := s.client.Set(ctx, s.key, joinLines(tokens), 0).Err(); err != nil {
		return fmt.Errorf("write tokens key: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
