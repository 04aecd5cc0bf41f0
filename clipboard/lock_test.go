package clipboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestHostLock_AcquireRelease(t *testing.T) {
	lock := NewHostLock(filepath.Join(t.TempDir(), LockFileName))

	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lock.Release()

	// Reacquirable after release.
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	lock.Release()
}

func TestHostLock_SecondAcquireBlocksUntilRelease(t *testing.T) {
	lock := NewHostLock(filepath.Join(t.TempDir(), LockFileName))

	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	entered := make(chan struct{})
	go func() {
		if err := lock.Acquire(context.Background()); err != nil {
			t.Errorf("blocked Acquire: %v", err)
			close(entered)
			return
		}
		close(entered)
		lock.Release()
	}()

	select {
	case <-entered:
		t.Fatal("second Acquire succeeded while lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	lock.Release()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire did not proceed after Release")
	}
}

func TestHostLock_AcquireHonorsCancellation(t *testing.T) {
	lock := NewHostLock(filepath.Join(t.TempDir(), LockFileName))

	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- lock.Acquire(ctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error while lock held elsewhere")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled Acquire did not return")
	}
}
