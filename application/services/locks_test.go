package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teesha-ghevariya/to-do/application/ports"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

func TestKeyedLocker_MutualExclusion(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, ports.LockRequest{Groups: []string{"root"}})
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, locker.Held())
}

func TestKeyedLocker_DisjointGroupsProceed(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, ports.LockRequest{Groups: []string{"a"}})
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := locker.Acquire(ctx, ports.LockRequest{Groups: []string{"b"}})
	require.NoError(t, err)
	releaseB()
}

func TestKeyedLocker_TimeoutReleasesPartialHold(t *testing.T) {
	locker := NewKeyedLocker()

	releaseB, err := locker.Acquire(context.Background(), ports.LockRequest{Groups: []string{"b"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, ports.LockRequest{Groups: []string{"a", "b"}})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLockTimeout))
	assert.True(t, pkgerrors.IsRetryable(err))

	// "a" must be free again
	releaseA, err := locker.Acquire(context.Background(), ports.LockRequest{Groups: []string{"a"}})
	require.NoError(t, err)
	releaseA()
	releaseB()
	assert.Equal(t, 0, locker.Held())
}

func TestKeyedLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := NewKeyedLocker()
	release, err := locker.Acquire(context.Background(), ports.LockRequest{Groups: []string{"x"}, Reparent: true})
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, locker.Held())
}
