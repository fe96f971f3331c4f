package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ Redis 实现
// =============================================================================

// Config Redis 连接配置。
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 返回默认 Redis 配置。
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// Redis 基于 go-redis 的 KV 实现。CAS 与 capped 自增通过 Lua 脚本保证
// 跨副本原子性。
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// casScript 当前值等于 ARGV[1]（空串匹配不存在）时替换为 ARGV[2]。
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (cur == false and ARGV[1] == '') or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  local ttl = tonumber(ARGV[3])
  if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
  return 1
end
return 0
`)

// incrCappedScript 当前值小于 ARGV[1] 时加一，返回 {新值, 是否成功}。
var incrCappedScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur >= tonumber(ARGV[1]) then
  return {cur, 0}
end
return {redis.call('INCR', KEYS[1]), 1}
`)

// NewRedis 创建 Redis KV 并验证连通性。
func NewRedis(cfg Config, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// NewRedisFromClient 复用已有客户端（测试用）。
func NewRedisFromClient(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger.With(zap.String("component", "store"))}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get failed: %w", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store set failed: %w", err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store setnx failed: %w", err)
	}
	return ok, nil
}

func (r *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	val, err := r.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("store incr failed: %w", err)
	}
	return val, nil
}

func (r *Redis) IncrCapped(ctx context.Context, key string, max int64) (int64, bool, error) {
	res, err := incrCappedScript.Run(ctx, r.client, []string{key}, max).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("store capped incr failed: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("store capped incr: unexpected reply %v", res)
	}
	return res[0], res[1] == 1, nil
}

func (r *Redis) CompareAndSet(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	res, err := casScript.Run(ctx, r.client, []string{key}, old, new, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("store cas failed: %w", err)
	}
	return res == 1, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("store expire failed: %w", err)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store del failed: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
