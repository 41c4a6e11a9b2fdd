package shimcore

import "sync"

// LockTable implements logical flock: LOCK_EX on a virtual path blocks a
// concurrent flock(LOCK_EX) on the same virtual path from another thread of
// the same process, keyed on the logical path rather than the host staging file or
// inode backing it (a CoW staging copy has its own inode, so an
// fcntl/flock against the host fd alone would never see a conflicting
// writer). This is process-local in-memory state, not persisted and not
// shared with the Daemon: a flock from a different process on the same
// virtual path is not blocked by it.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*vpathLock
}

type vpathLock struct {
	mu sync.Mutex
}

// NewLockTable constructs an empty table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*vpathLock)}
}

func (t *LockTable) entryFor(vpath string) *vpathLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[vpath]
	if !ok {
		l = &vpathLock{}
		t.locks[vpath] = l
	}
	return l
}

// LockExclusive blocks until vpath has no other holders, then marks it
// exclusively held. Returns an Unlock func for the caller to invoke on
// flock(LOCK_UN) or fd close.
func (t *LockTable) LockExclusive(vpath string) (unlock func()) {
	l := t.entryFor(vpath)
	l.mu.Lock()
	return func() { l.mu.Unlock() }
}

// TryLockExclusive attempts a non-blocking exclusive acquisition (flock's
// LOCK_EX|LOCK_NB), returning ok=false immediately if another holder in this
// process has the lock rather than blocking.
func (t *LockTable) TryLockExclusive(vpath string) (unlock func(), ok bool) {
	l := t.entryFor(vpath)
	if !l.mu.TryLock() {
		return nil, false
	}
	return func() { l.mu.Unlock() }, true
}

// Forget drops vpath's entry once no descriptor references it, so a long
// running Shim process does not accumulate one map entry per distinct path
// ever locked. Safe to call even while other goroutines hold a reference
// they already acquired; it only removes the table's own pointer.
func (t *LockTable) Forget(vpath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, vpath)
}
