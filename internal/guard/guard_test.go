package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"freelancehub/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalSerializesSameProject(t *testing.T) {
	g := NewLocal(time.Second, zap.NewNop())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, g.Held())
}

func TestLocalAllowsParallelProjects(t *testing.T) {
	g := NewLocal(time.Second, zap.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- g.WithProjectLock(context.Background(), "p2", func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lock on p2 blocked behind p1")
	}
	close(release)
}

func TestLocalTimeout(t *testing.T) {
	g := NewLocal(20*time.Millisecond, zap.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	called := false
	err := g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, apperror.IsCode(err, apperror.CodeLockTimeout))
	assert.True(t, apperror.IsRetryable(err))

	close(release)
}

func TestLocalCancelBeforeAcquireLeavesNoTrace(t *testing.T) {
	g := NewLocal(time.Second, zap.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.WithProjectLock(ctx, "p1", func(ctx context.Context) error {
			t.Error("fn must not run after cancellation")
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return g.Held() == 0 }, time.Second, 5*time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	err := g.WithProjectLock(ctx2, "p9", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.Held())
}

func TestLocalReleasesOnErrorAndPanic(t *testing.T) {
	g := NewLocal(100*time.Millisecond, zap.NewNop())

	boom := errors.New("store unavailable")
	err := g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error { panic("bad transition") })
	})

	err = g.WithProjectLock(context.Background(), "p1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Zero(t, g.Held())
}
