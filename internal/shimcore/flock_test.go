package shimcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLockTableExclusiveBlocksSamePath: a second exclusive
// acquisition on the same virtual path blocks until the first releases,
// regardless of which host fd or staging file backs each acquirer.
func TestLockTableExclusiveBlocksSamePath(t *testing.T) {
	tbl := NewLockTable()

	unlock := tbl.LockExclusive("/vrift/shared.lock")

	acquired := make(chan struct{})
	go func() {
		u := tbl.LockExclusive("/vrift/shared.lock")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second exclusive lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second exclusive lock never acquired after release")
	}
}

func TestLockTableDifferentPathsDoNotBlock(t *testing.T) {
	tbl := NewLockTable()
	unlockA := tbl.LockExclusive("/vrift/a.lock")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		u := tbl.LockExclusive("/vrift/b.lock")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an unrelated path should not block")
	}
}

func TestLockTableTryLockExclusiveFailsWhenHeld(t *testing.T) {
	tbl := NewLockTable()
	unlock := tbl.LockExclusive("/vrift/x.lock")
	defer unlock()

	_, ok := tbl.TryLockExclusive("/vrift/x.lock")
	require.False(t, ok)
}

func TestLockTableTryLockExclusiveSucceedsWhenFree(t *testing.T) {
	tbl := NewLockTable()
	unlock, ok := tbl.TryLockExclusive("/vrift/y.lock")
	require.True(t, ok)
	unlock()
}

func TestLockTableForgetDropsEntry(t *testing.T) {
	tbl := NewLockTable()
	unlock := tbl.LockExclusive("/vrift/z.lock")
	unlock()
	tbl.Forget("/vrift/z.lock")

	require.Empty(t, tbl.locks)
}
