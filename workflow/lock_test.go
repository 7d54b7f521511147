package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalWorkflowLock 测试本地锁
func TestLocalWorkflowLock(t *testing.T) {
	t.Run("正常执行并释放", func(t *testing.T) {
		lock := NewLocalWorkflowLock()
		executed := false
		err := lock.NonBlockingSynchronized(context.Background(), "key1", time.Minute, func(ctx context.Context) error {
			executed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, executed)

		// 释放之后可以再次上锁
		err = lock.NonBlockingSynchronized(context.Background(), "key1", time.Minute, func(ctx context.Context) error {
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("锁被占用时立刻失败", func(t *testing.T) {
		lock := NewLocalWorkflowLock()
		holding := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = lock.NonBlockingSynchronized(context.Background(), "key2", time.Minute, func(ctx context.Context) error {
				close(holding)
				<-release
				return nil
			})
		}()
		<-holding

		err := lock.NonBlockingSynchronized(context.Background(), "key2", time.Minute, func(ctx context.Context) error {
			return nil
		})
		assert.True(t, errors.Is(err, LockFailedError))
		close(release)
	})

	t.Run("同一个ctx可以重入", func(t *testing.T) {
		lock := NewLocalWorkflowLock()
		reentered := false
		err := lock.NonBlockingSynchronized(context.Background(), "key3", time.Minute, func(ctx context.Context) error {
			return lock.NonBlockingSynchronized(ctx, "key3", time.Minute, func(ctx context.Context) error {
				reentered = true
				return nil
			})
		})
		require.NoError(t, err)
		assert.True(t, reentered)
	})

	t.Run("闭包的错误透传", func(t *testing.T) {
		lock := NewLocalWorkflowLock()
		want := errors.New("boom")
		err := lock.NonBlockingSynchronized(context.Background(), "key4", time.Minute, func(ctx context.Context) error {
			return want
		})
		assert.True(t, errors.Is(err, want))
	})
}

// TestRedisWorkflowLock 测试redis分布式锁
func TestRedisWorkflowLock(t *testing.T) {
	setupRedis := func(t *testing.T) (WorkflowLock, *miniredis.Miniredis) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return NewRedisWorkflowLock(client), mr
	}

	t.Run("正常执行并释放redis里的key", func(t *testing.T) {
		lock, mr := setupRedis(t)
		err := lock.NonBlockingSynchronized(context.Background(), "key1", time.Minute, func(ctx context.Context) error {
			// 执行期间锁key存在
			assert.True(t, mr.Exists("key1"))
			return nil
		})
		require.NoError(t, err)
		assert.False(t, mr.Exists("key1"))
	})

	t.Run("key被别的实例占用时立刻失败", func(t *testing.T) {
		lock, mr := setupRedis(t)
		require.NoError(t, mr.Set("key2", "other-holder"))

		err := lock.NonBlockingSynchronized(context.Background(), "key2", time.Minute, func(ctx context.Context) error {
			return nil
		})
		assert.True(t, errors.Is(err, LockFailedError))
	})

	t.Run("同一个ctx可以重入", func(t *testing.T) {
		lock, _ := setupRedis(t)
		reentered := false
		err := lock.NonBlockingSynchronized(context.Background(), "key3", time.Minute, func(ctx context.Context) error {
			return lock.NonBlockingSynchronized(ctx, "key3", time.Minute, func(ctx context.Context) error {
				reentered = true
				return nil
			})
		})
		require.NoError(t, err)
		assert.True(t, reentered)
	})

	t.Run("闭包报错时锁也会释放", func(t *testing.T) {
		lock, mr := setupRedis(t)
		want := errors.New("boom")
		err := lock.NonBlockingSynchronized(context.Background(), "key4", time.Minute, func(ctx context.Context) error {
			return want
		})
		assert.True(t, errors.Is(err, want))
		assert.False(t, mr.Exists("key4"))
	})
}
