// Package shimcore is the Shim's logic engine: pure Go, independently
// testable, with no cgo and no direct syscall interception of its own.
// cmd/vriftshim's C-ABI exports call into this package once the cgo
// preamble has resolved the original libc symbols; shimcore never touches
// a symbol table itself.
package shimcore

import "sync/atomic"

// InitState is the two-stage initialization state machine's position:
// a process that has loaded the Shim must never block a syscall on
// Daemon I/O or dynamic symbol resolution before it is safe to do so.
type InitState int32

const (
	// StateUninitialized is the constructor's starting state: no heap
	// allocation, no symbol resolution, no I/O has happened yet. While in
	// this state every intercepted call must route to a raw passthrough.
	StateUninitialized InitState = iota
	// StateSymbolsResolved means the cgo layer has captured the original
	// libc symbol addresses (or deferred them to atomic pointers resolved
	// on first use); shimcore logic is not yet safe to run.
	StateSymbolsResolved
	// StateReady is claimed by the thread that runs stage 2
	// (cmd/vriftshim's ensureReady), which then reads environment
	// configuration, dials the Daemon socket, loads the published Manifest
	// snapshot and installs the Engine; callers that find no Engine yet
	// pass through. The socket is dialed during stage 2 itself, not on the
	// first write or manifest miss.
	StateReady
)

// InitGuard is the atomic state machine gating Dispatch. Declared once per
// process (a package-level singleton in cmd/vriftshim), never reset.
type InitGuard struct {
	state int32
}

// State returns the current InitState.
func (g *InitGuard) State() InitState {
	return InitState(atomic.LoadInt32(&g.state))
}

// Advance moves the guard from from to to, returning false if the guard was
// not in from (a concurrent advance already happened, or stages ran out of
// order); callers must treat false as "do not repeat stage work".
func (g *InitGuard) Advance(from, to InitState) bool {
	return atomic.CompareAndSwapInt32(&g.state, int32(from), int32(to))
}

// Ready reports whether shimcore logic may run. Every Dispatch entry point
// checks this first and falls back to passthrough when false.
func (g *InitGuard) Ready() bool {
	return g.State() == StateReady
}
