package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadLocksDoNotExcludeEachOther(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(true, false))
	require.NoError(t, root.Lock(true, true))
	root.Unlock()
	root.Unlock()
}

func TestWriteLockExcludesReaders(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(false, false))
	err := root.Lock(true, true)
	require.Error(t, err)
	root.Unlock()
	require.NoError(t, root.Lock(true, true))
	root.Unlock()
}

func TestTryLockFailsWithoutBlocking(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(false, false))

	done := make(chan error, 1)
	go func() { done <- root.Lock(false, true) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("tryLock should not block")
	}
	root.Unlock()
}

func TestWriteLockOnChildExcludesWriteOnParent(t *testing.T) {
	root := newSubtreeLock(nil)
	child := newSubtreeLock(root)

	require.NoError(t, child.Lock(false, false))
	err := root.Lock(false, true)
	require.Error(t, err, "a write lock held below should exclude a new write lock on the ancestor")
	child.Unlock()

	require.NoError(t, root.Lock(false, true))
	root.Unlock()
}

func TestLockBlocksThenWakesOnUnlock(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(false, false))

	unblocked := make(chan struct{})
	go func() {
		require.NoError(t, root.Lock(false, false))
		close(unblocked)
		root.Unlock()
	}()

	select {
	case <-unblocked:
		t.Fatal("second writer should not acquire before the first unlocks")
	case <-time.After(50 * time.Millisecond):
	}

	root.Unlock()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("waiting writer never woke up after unlock")
	}
}

func TestMarkDestroyedWakesBlockedWaiters(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(false, false))

	errCh := make(chan error, 1)
	go func() { errCh <- root.Lock(false, false) }()

	time.Sleep(20 * time.Millisecond)
	root.markDestroyed()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Lock never observed destruction")
	}
}

func TestDowngradeAllowsConcurrentReaders(t *testing.T) {
	root := newSubtreeLock(nil)
	require.NoError(t, root.Lock(false, false))
	root.Downgrade()
	require.NoError(t, root.Lock(true, true))
	root.Unlock()
	root.Unlock()
}
