// Package clipboard extracts generated responses through the operating
// system clipboard.
//
// The OS clipboard is host-wide. Two levels of serialization guarantee
// at-most-one consumer during the copy sequence:
//
//  1. an intra-process semaphore, cheap for the common single-process case;
//  2. a cross-process kernel file lock on a fixed path in the user home,
//     taken by every pool process on the host (e.g. pools for different
//     target LLMs). Kernel advisory locks are released on process death,
//     so no stale lock can survive a crash.
//
// Only the short copy sequence (~2s) holds the locks. The long generation
// wait runs unlocked.
package clipboard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the fixed cross-process lock path, relative to the user
// home. Its contents are irrelevant; only the kernel lock matters.
const LockFileName = ".clipboard-lock"

const lockRetryInterval = 100 * time.Millisecond

// HostLock serializes clipboard access within and across processes. The
// intra-process level is a channel semaphore so waiters honor context
// cancellation.
type HostLock struct {
	sem chan struct{}
	fl  *flock.Flock
}

// NewHostLock creates a lock over the given file path.
func NewHostLock(path string) *HostLock {
	return &HostLock{
		sem: make(chan struct{}, 1),
		fl:  flock.New(path),
	}
}

var defaultLock = sync.OnceValue(func() *HostLock {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return NewHostLock(filepath.Join(home, LockFileName))
})

// Acquire takes the intra-process semaphore, then the exclusive kernel
// file lock. On error (including context cancellation) nothing stays held.
func (l *HostLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	locked, err := l.fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		<-l.sem
		if err == nil {
			err = ctx.Err()
		}
		return err
	}
	return nil
}

// Release drops both levels. Call only after a successful Acquire.
func (l *HostLock) Release() {
	_ = l.fl.Unlock()
	<-l.sem
}
