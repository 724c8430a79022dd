package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_MutualExclusion(t *testing.T) {
	l := NewLocker(time.Minute)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")

	require.NoError(t, l.Release(ctx, "sweep"))

	ok, err = l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	assert.True(t, ok, "acquire after release must succeed")
}

func TestTryAcquire_LeaseExpires(t *testing.T) {
	l := NewLocker(10 * time.Millisecond)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be acquirable")
}

func TestRelease_NotHeld(t *testing.T) {
	l := NewLocker(time.Minute)
	err := l.Release(context.Background(), "sweep")
	assert.True(t, errors.Is(err, domainErrors.ErrLockNotHeld))
}

func TestExecuteWithLock_OnlyOneWinner(t *testing.T) {
	l := NewLocker(time.Minute)
	ctx := context.Background()

	var executions atomic.Int32
	var wg sync.WaitGroup
	block := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired, err := l.ExecuteWithLock(ctx, "sweep", 0, func(ctx context.Context) error {
				executions.Add(1)
				<-block
				return nil
			})
			assert.NoError(t, err)
			_ = acquired
		}()
	}

	// Give every goroutine a chance to try while the winner holds the lock.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load(), "exactly one concurrent caller may run fn")
}

func TestExecuteWithLock_ReleasesOnError(t *testing.T) {
	l := NewLocker(time.Minute)
	ctx := context.Background()

	wantErr := errors.New("boom")
	acquired, err := l.ExecuteWithLock(ctx, "sweep", 0, func(ctx context.Context) error {
		return wantErr
	})
	assert.True(t, acquired)
	assert.True(t, errors.Is(err, wantErr))

	ok, err := l.TryAcquire(ctx, "sweep", 0)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be free after fn error")
}
