// Package cache 提供 Redis 客户端封装，支持 JSON 序列化与 TTL
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Config Redis 配置
type Config struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client *redis.Client
}

// New 创建 Redis 缓存客户端
func New(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetJSON 读取 key 并反序列化到 dest
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON 序列化 value 并以 TTL 写入
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// GetClient 返回底层 redis 客户端
func (c *RedisCache) GetClient() *redis.Client {
	return c.client
}

// Close 关闭客户端
func (c *RedisCache) Close() error {
	return c.client.Close()
}
