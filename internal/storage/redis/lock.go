package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RosarioB/eliza-nft/internal/storage"
	"github.com/RosarioB/eliza-nft/pkg/logger"
)

const (
	defaultLease    = 30 * time.Second
	defaultInterval = 50 * time.Millisecond
)

// 仅当锁仍由当前令牌持有时才删除。
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// 仅当锁仍由当前令牌持有时才延长租期。
const renewScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// Locker 基于 SET NX PX 实现跨进程的按键互斥，持有期间按租期的三分之一续期。
type Locker struct {
	client   Client
	prefix   string
	lease    time.Duration
	interval time.Duration
}

// LockerOption 调整锁参数。
type LockerOption func(*Locker)

// WithLease 设置锁的租期，持有者崩溃时锁在租期后自动释放。
func WithLease(lease time.Duration) LockerOption {
	return func(l *Locker) {
		if lease > 0 {
			l.lease = lease
		}
	}
}

// WithRetryInterval 设置抢锁失败后的重试间隔。
func WithRetryInterval(interval time.Duration) LockerOption {
	return func(l *Locker) {
		if interval > 0 {
			l.interval = interval
		}
	}
}

// NewLocker 创建分布式锁。
func NewLocker(client Client, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{client: client, prefix: prefix, lease: defaultLease, interval: defaultInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Lock 实现 storage.Locker。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key + ":lock"
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("Redis 加锁失败: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.client.Eval(releaseCtx, releaseScript, []string{lockKey}, token).Err()
		})
	}, nil
}

// keepAlive 在 stop 关闭前周期性续期，锁被他人持有后停止。
func (l *Locker) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.lease/3)
		n, err := l.client.Eval(ctx, renewScript, []string{lockKey}, token, l.lease.Milliseconds()).Int64()
		cancel()
		if err != nil {
			logger.Named("redis-lock").Warn("续期锁失败", "key", lockKey, "error", err)
			continue
		}
		if n == 0 {
			logger.Named("redis-lock").Error("锁已丢失，停止续期", "key", lockKey)
			return
		}
	}
}

var _ storage.Locker = (*Locker)(nil)
