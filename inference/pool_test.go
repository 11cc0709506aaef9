package inference

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	if _, err := os.Stat(testModelPath); err != nil {
		t.Skipf("Skipping: model not available at %s", testModelPath)
	}
	pool, err := NewPool(testModelPath, size, DefaultInputSize)
	if err != nil {
		if isORTUnavailableError(err) {
			t.Skipf("Skipping: ONNX runtime not available: %v", err)
		}
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool
}

func TestNewPool_SizeDefaults(t *testing.T) {
	for _, size := range []int{0, -5} {
		pool := newTestPool(t, size)
		if pool.Size() != 1 {
			t.Errorf("NewPool(%d): expected size 1, got %d", size, pool.Size())
		}
		_ = pool.Close()
	}
}

func TestNewPool_ModelNotFound(t *testing.T) {
	if _, err := NewPool("../testdata/nonexistent.onnx", 2, DefaultInputSize); err == nil {
		t.Error("expected error for non-existent model file")
	}
}

func TestPool_AcquireBlocksWhenEmpty(t *testing.T) {
	pool := newTestPool(t, 2)
	defer func() { _ = pool.Close() }()

	ctx := context.Background()
	s1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 1 failed: %v", err)
	}
	s2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire 2 failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	pool.Release(s1)
	s3, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}

	pool.Release(s2)
	pool.Release(s3)
	pool.Release(nil)
}

func TestPool_Close(t *testing.T) {
	pool := newTestPool(t, 1)

	session, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Closes the session instead of returning it.
	pool.Release(session)

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_ConcurrentInfer(t *testing.T) {
	pool := newTestPool(t, 2)
	defer func() { _ = pool.Close() }()

	input := blankInput(pool.InputSize())
	var (
		wg       sync.WaitGroup
		failures int64
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Infer(context.Background(), input); err != nil {
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	if failures != 0 {
		t.Errorf("%d concurrent inferences failed", failures)
	}
}
