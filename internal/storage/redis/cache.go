// Package redis 在 Redis 之上实现 storage.Cache 与 storage.Locker，
// 用于多实例部署时共享参与者记录并串行化同一参与者的处理。
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RosarioB/eliza-nft/internal/storage"
)

// Client 是本包依赖的 go-redis 方法子集，*redis.Client 满足该接口。
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Config 描述 Redis 连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Dial 创建客户端并执行一次 PING。
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// Cache 将记录保存为带过期时间的字符串键。
type Cache struct {
	client Client
	prefix string
	now    func() time.Time
}

// NewCache 创建 Redis 缓存，prefix 会拼接在每个键之前。
func NewCache(client Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix, now: time.Now}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get 实现 storage.Cache。
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("Redis 读取失败: %w", err)
	}
	return raw, nil
}

// Set 实现 storage.Cache。过期时间已过的写入等同于删除。
func (c *Cache) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(c.now())
		if ttl <= 0 {
			return c.Delete(ctx, key)
		}
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入失败: %w", err)
	}
	return nil
}

// Delete 实现 storage.Cache。
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("Redis 删除失败: %w", err)
	}
	return nil
}

var _ storage.Cache = (*Cache)(nil)
