package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：同一账户对上并发提交两笔转账
//
// 如果没有锁：
//   goroutine1: 查询余额=100 -> 扣款100 -> 余额=0   OK
//   goroutine2: 查询余额=100 -> 扣款100 -> 余额=-100 超扣了！
//
// 加锁之后：
//   goroutine1: 获取锁 -> 查询余额=100 -> 扣款100 -> 余额=0 -> 释放锁
//   goroutine2: 等待... -> 获取锁 -> 查询余额=0 -> 余额不足，拒绝
//
// 数据库行锁（SELECT ... FOR UPDATE）是最终的串行化保证，
// Redis 锁在进入数据库事务之前就挡住竞争请求，降低行锁争用。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockTimeout = errors.New("获取账户锁超时")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 锁持有者标识，释放时验证
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁，超出 maxWait 返回 ErrLockTimeout
func (l *DistributedLock) Lock(ctx context.Context, retryInterval, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
}

// Unlock 释放锁
// Lua 脚本先验证 value 是否是自己的再删除，
// 避免锁过期后误删后续持有者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 账户对锁：一次转账涉及两个账户
// ============================================================================

// AccountPairLock 一笔转账的两把账户锁
type AccountPairLock struct {
	locks []*DistributedLock
}

// accountLockKey 账户锁的 key
func accountLockKey(accountID int64) string {
	return fmt.Sprintf("ledger:lock:account:%d", accountID)
}

// OrderAccountIDs 固定加锁顺序：账户ID升序
//
// 【关键点】转账 A->B 与 B->A 并发时，如果各自按"先发送方后接收方"加锁，
// 会形成互相等待的死锁。全局统一按 ID 升序加锁后死锁不可能出现。
func OrderAccountIDs(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// NewAccountPairLock 创建账户对锁
// value 使用随机 uuid，便于验证持有者且不依赖调用方传入的请求ID
func NewAccountPairLock(client *redis.Client, accountA, accountB int64, expiration time.Duration) *AccountPairLock {
	first, second := OrderAccountIDs(accountA, accountB)
	token := uuid.NewString()
	locks := []*DistributedLock{
		NewDistributedLock(client, accountLockKey(first), token, expiration),
	}
	if second != first {
		locks = append(locks, NewDistributedLock(client, accountLockKey(second), token, expiration))
	}
	return &AccountPairLock{locks: locks}
}

// Lock 按固定顺序获取两把锁；任何一把失败时回滚已持有的锁
func (p *AccountPairLock) Lock(ctx context.Context, retryInterval, maxWait time.Duration) error {
	for i, l := range p.locks {
		if err := l.Lock(ctx, retryInterval, maxWait); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = p.locks[j].Unlock(ctx)
			}
			return err
		}
	}
	return nil
}

// Unlock 逆序释放
func (p *AccountPairLock) Unlock(ctx context.Context) {
	for i := len(p.locks) - 1; i >= 0; i-- {
		_ = p.locks[i].Unlock(ctx)
	}
}
