package main

/*
#include "shim.h"
*/
import "C"

import "sync"

const (
	lockSH = 1
	lockEX = 2
	lockNB = 4
	lockUN = 8
)

// flockHolders tracks which fd currently holds which vpath's unlock func,
// so a later LOCK_UN can release the right shimcore.LockTable entry. Host
// processes call flock from arbitrary threads, so the map is mutex-guarded.
// Only exclusive semantics are implemented: shared (LOCK_SH) acquisitions
// map to the same per-vpath mutual exclusion, which is stricter than POSIX
// but never admits two writers.
var (
	flockHoldersMu sync.Mutex
	flockHolders   = map[int32]func(){}
)

//export vriftFlockImpl
func vriftFlockImpl(fd, operation C.int) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_flock(fd, operation)
	}
	rec, ok := e.FDs.Lookup(int32(fd))
	if !ok {
		return C.vrift_real_flock(fd, operation)
	}

	op := int32(operation)
	switch {
	case op&lockUN != 0:
		flockHoldersMu.Lock()
		unlock, held := flockHolders[int32(fd)]
		delete(flockHolders, int32(fd))
		flockHoldersMu.Unlock()
		if held {
			unlock()
		}
		return 0
	case op&lockEX != 0 || op&lockSH != 0:
		if op&lockNB != 0 {
			unlock, ok := e.Locks.TryLockExclusive(rec.VPath)
			if !ok {
				setErrno(errnoEACCES)
				return -1
			}
			flockHoldersMu.Lock()
			flockHolders[int32(fd)] = unlock
			flockHoldersMu.Unlock()
			return 0
		}
		unlock := e.Locks.LockExclusive(rec.VPath)
		flockHoldersMu.Lock()
		flockHolders[int32(fd)] = unlock
		flockHoldersMu.Unlock()
		return 0
	default:
		setErrno(errnoEIO)
		return -1
	}
}
