// internal/infra/etcd/etcd_locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"minutebars/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	// LockPrefix 定义了 etcd 中分布式锁的根路径
	LockPrefix = KeyPrefix + "locks/"
	// LockSessionTTL 定义了锁会话的 TTL，进程崩溃后锁在此时间内释放
	LockSessionTTL = 10 // seconds
)

// etcdLock 实现了 domain.Lock 接口
type etcdLock struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	name    string
}

// Unlock 释放锁并关闭会话
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer func() {
		_ = l.session.Close()
	}()

	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.name, err)
	}
	return nil
}

// etcdLocker 实现了 domain.Locker 接口
type etcdLocker struct {
	client *clientv3.Client
}

// NewEtcdLocker 创建一个新的 etcdLocker 实例
func NewEtcdLocker(client *clientv3.Client) domain.Locker {
	return &etcdLocker{client: client}
}

// Lock 尝试获取一个指定名称的分布式锁，不阻塞
func (l *etcdLocker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	// 每次尝试都使用新的会话；会话过期时锁自动释放
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(LockSessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for lock %s: %w", name, err)
	}

	mutex := concurrency.NewMutex(session, LockPrefix+name)

	tryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, fmt.Errorf("failed to try acquiring etcd lock %s: %w", name, err)
	}

	return &etcdLock{
		mutex:   mutex,
		session: session,
		name:    name,
	}, nil
}
