package main

/*
#include "shim.h"
*/
import "C"

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/velo-sh/rift/internal/cas"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/shimcore"
)

var (
	guard    shimcore.InitGuard
	engine   atomic.Pointer[shimcore.Engine]
	casStore atomic.Pointer[cas.Store]
)

// casBlobPath computes the host path for a blob, used by the read fast
// path to hand the real open symbol a path without any Daemon round trip.
// Pure path construction, per cas.Store.GetPath's own "no I/O" contract.
func casBlobPath(hash hashid.ContentHash, size int64) string {
	store := casStore.Load()
	if store == nil {
		return ""
	}
	path, err := store.GetPath(hashid.BlobRef{Hash: hash, Size: size})
	if err != nil {
		return ""
	}
	return path
}

//export vriftGoConstructorMarker
func vriftGoConstructorMarker() {
	// Intentionally minimal: Go runtime initialization triggered by loading
	// the shared library has already run everything package-level vars need
	// by the time shim.c's constructor fires, so there is nothing further to
	// defer here except marking state so stage 2 knows it is safe to
	// proceed, and registering the fork child hook (storing three function
	// pointers, no I/O of its own).
	registerAtfork()
	guard.Advance(shimcore.StateUninitialized, shimcore.StateSymbolsResolved)
}

// ensureReady runs stage 2 exactly once: resolve symbols (idempotent on
// its own), read environment configuration, dial the Shim-facing socket,
// and construct the Engine. Every exported entry point calls this before
// doing anything else; while it has not completed, callers must use the
// raw passthrough symbols directly instead of blocking here.
func ensureReady() *shimcore.Engine {
	if e := engine.Load(); e != nil {
		if e.Client == nil {
			reconnectAfterFork(e)
		}
		return e
	}
	resolveSymbolsOnce()
	if !guard.Advance(shimcore.StateSymbolsResolved, shimcore.StateReady) {
		// Another thread is mid-init, or init already completed and raced
		// us to the atomic.Pointer load above; either way, fall through to
		// passthrough for this call rather than blocking.
		return engine.Load()
	}

	prefix := os.Getenv("VRIFT_VFS_PREFIX")
	socketPath := os.Getenv("VRIFT_SOCKET_PATH")
	workspaceID := os.Getenv("VRIFT_WORKSPACE_ID")
	if prefix == "" || socketPath == "" {
		// No configuration: every intercepted call passes through. This is
		// the expected state for any process not explicitly targeted by a
		// Velo Rift workspace.
		return nil
	}

	level := logging.InfoLevel
	if v, _ := strconv.ParseBool(os.Getenv("VRIFT_DEBUG")); v {
		level = logging.DebugLevel
	}
	logging.Init(logging.Config{Level: level, JSONOutput: true})

	// Dialed here rather than lazily on first write: this simplified Shim
	// keeps one long-lived connection per process instead of per-prefix
	// connection pooling, so there is no separate "first write" moment to
	// defer to.
	client, err := protocol.Dial(socketPath)
	if err != nil {
		log := logging.WithComponent("vriftshim")
		log.Warn().Err(err).Msg("init: daemon socket unreachable, all calls pass through")
		return nil
	}

	casRoot := os.Getenv("VRIFT_CAS_ROOT")
	if casRoot == "" {
		casRoot = os.Getenv("VR_THE_SOURCE")
	}
	if casRoot != "" {
		if store, err := cas.New(casRoot); err == nil {
			casStore.Store(store)
		}
	}

	e := shimcore.NewEngine(prefix, workspaceID, client)
	loadPublishedSnapshot(e)
	engine.Store(e)
	return e
}

// loadPublishedSnapshot maps the Daemon-published Manifest view named by
// VRIFT_VDIR_MMAP into the Engine, enabling the zero-IPC read fast path:
// the generation header names the current snapshot file, and lookups served
// from it never touch the socket. Best effort: without the variable (or a
// readable header) every lookup falls back to the Daemon RPC path in
// shimcore.Engine.lookup.
func loadPublishedSnapshot(e *shimcore.Engine) {
	dir := os.Getenv("VRIFT_VDIR_MMAP")
	if dir == "" {
		return
	}
	gen, err := manifest.ReadGenerationHeader(dir)
	if err != nil {
		return
	}
	snap, err := manifest.LoadSnapshot(dir, gen)
	if err != nil {
		return
	}
	e.SnapshotDir = dir
	e.RefreshSnapshot(snap)
}

// reconnectAfterFork dials a fresh Daemon connection for an engine that was
// just inherited across fork(2) by vriftAtforkChild: the parent's socket fd
// survives the fork at the OS level, but sharing one stream connection
// between two processes racing Call/response pairs would corrupt framing,
// so the child gets its own. Best effort: a process that never performs a
// virtualized syscall after forking never pays this cost.
func reconnectAfterFork(e *shimcore.Engine) {
	socketPath := os.Getenv("VRIFT_SOCKET_PATH")
	if socketPath == "" {
		return
	}
	client, err := protocol.Dial(socketPath)
	if err != nil {
		return
	}
	e.Client = client
}
