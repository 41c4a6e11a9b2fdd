package main

/*
#include "shim.h"
*/
import "C"

import (
	"sync/atomic"

	"github.com/velo-sh/rift/internal/shimcore"
)

// registerAtfork is called once from vriftGoConstructorMarker. The
// constructor itself must stay allocation-free (stage 1 discipline), but
// registering a pthread_atfork handler is just storing three function
// pointers, not resolving symbols or dialing anything.
func registerAtfork() {
	C.vrift_register_atfork()
}

//export vriftAtforkPrepare
func vriftAtforkPrepare() {}

//export vriftAtforkParent
func vriftAtforkParent() {}

// vriftAtforkChild runs in the child immediately after fork(2), before any
// user code. A forked child inherits a read-only view of the fd table (its
// own copies of the parent's fds, including any staging-file fds) but must
// not share the parent's Daemon connection: dialing a fresh one lazily on
// the child's first operation, rather than eagerly here, keeps this handler
// within the narrow set of fork-safe operations (no locking, no I/O).
//
//export vriftAtforkChild
func vriftAtforkChild() {
	if e := engine.Load(); e != nil {
		child := shimcore.NewEngine(e.Prefix, e.WorkspaceID, nil)
		child.FDs = e.FDs.Clone()
		child.SnapshotDir = e.SnapshotDir
		engine.Store(child)
	}
	atomic.StoreInt32(&symbolsResolved, 1)
}
