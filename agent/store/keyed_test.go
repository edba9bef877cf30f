package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyedMutexHonoursContext(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	release, err := k.lock(context.Background(), []string{"b"})
	if err != nil {
		t.Fatalf("lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.lock(ctx, []string{"b", "a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("lock() error = %v, want deadline exceeded", err)
	}

	release()

	// "a" was taken by the failed attempt and must be free again.
	release2, err := k.lock(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("lock() after release error = %v", err)
	}
	release2()

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", len(k.locks))
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	releaseA, err := k.lock(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("lock(a) error = %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := k.lock(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("lock(b) error = %v", err)
	}
	releaseB()
}
