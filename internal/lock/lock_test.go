package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalSerialisesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, PoolKey)
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxInside)
}

func TestLocalIndependentKeysAndCancel(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "users:budi")
	require.NoError(t, err)

	other, err := l.Acquire(context.Background(), "users:sari")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "users:budi")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	release()
	again, err := l.Acquire(context.Background(), "users:budi")
	require.NoError(t, err)
	again()
}
