package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPairLocker 结算引擎使用的账户对锁工厂
// 过期时间取等待上限的两倍，保证持锁方在锁过期前能完成一次结算事务
type RedisPairLocker struct {
	client        *redis.Client
	retryInterval time.Duration
	maxWait       time.Duration
}

func NewRedisPairLocker(client *redis.Client, retryInterval, maxWait time.Duration) *RedisPairLocker {
	return &RedisPairLocker{
		client:        client,
		retryInterval: retryInterval,
		maxWait:       maxWait,
	}
}

// Acquire 获取两个账户的锁，返回释放函数
// 等待超过上限返回 ErrLockTimeout
func (l *RedisPairLocker) Acquire(ctx context.Context, accountA, accountB int64) (func(), error) {
	pair := NewAccountPairLock(l.client, accountA, accountB, 2*l.maxWait)
	if err := pair.Lock(ctx, l.retryInterval, l.maxWait); err != nil {
		return nil, err
	}
	return func() { pair.Unlock(ctx) }, nil
}
