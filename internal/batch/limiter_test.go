package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobLimiter_AcquireRelease(t *testing.T) {
	l := NewJobLimiter(2, time.Second)
	ctx := context.Background()

	if got := l.Status(); got.Active != 0 || got.Available != 2 || got.MaxConcurrent != 2 {
		t.Fatalf("initial status = %+v", got)
	}

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if got := l.Status(); got.Active != 2 || got.Available != 0 {
		t.Errorf("full status = %+v", got)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded on a full limiter")
	}

	l.Release()
	if got := l.Active(); got != 1 {
		t.Errorf("Active after Release = %d, want 1", got)
	}
	if !l.TryAcquire() {
		t.Error("TryAcquire failed with a free slot")
	}
	l.Release()
	l.Release()

	if got := l.Active(); got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
}

func TestJobLimiter_TimesOutWhenFull(t *testing.T) {
	l := NewJobLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	start := time.Now()
	err := l.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("err = %v, want ErrTooManyJobs", err)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("gave up too early: %v", elapsed)
	}
}

func TestJobLimiter_ContextCancelled(t *testing.T) {
	l := NewJobLimiter(1, time.Minute)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if got := l.Status().Waiting; got != 0 {
		t.Errorf("Waiting = %d after cancel, want 0", got)
	}
}

func TestJobLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	l := NewJobLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var peak atomic.Int32

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer l.Release()

			n := int32(l.Active())
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > maxConcurrent {
		t.Errorf("peak active = %d, want <= %d", got, maxConcurrent)
	}
}

func TestJobLimiter_WaitForDrain(t *testing.T) {
	l := NewJobLimiter(2, time.Second)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}

	if !l.TryAcquire() {
		t.Fatal("TryAcquire failed")
	}
	defer l.Release()

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := l.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain with a busy slot = %v, want DeadlineExceeded", err)
	}
}

func TestJobLimiterDefaults(t *testing.T) {
	l := NewJobLimiter(0, 0)
	if got := l.Status().MaxConcurrent; got != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentJobs)
	}
	if l.maxWait != DefaultMaxWait {
		t.Errorf("maxWait = %v, want %v", l.maxWait, DefaultMaxWait)
	}
}
