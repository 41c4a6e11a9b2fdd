package main

/*
#include "shim.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/velo-sh/rift/internal/shimcore"
	"github.com/velo-sh/rift/internal/vnode"
)

// dirStreams maps a synthetic stream ID to a live shimcore.DirStream. The
// boxed DIR* shim.c hands the caller never carries a Go pointer directly
// (cgo forbids storing them in C memory long-term), only this small
// integer handle.
var (
	dirStreamsMu  sync.Mutex
	dirStreams    = map[int64]*shimcore.DirStream{}
	nextDirStream int64
)

//export vriftOpendirImpl
func vriftOpendirImpl(cPath *C.char, isVirtual *C.int) C.longlong {
	*isVirtual = 0
	e := ensureReady()
	if e == nil {
		return -1
	}
	path := C.GoString(cPath)
	abs := resolveAgainstCwdOrDirfd(path, false, 0)
	res := shimcore.Resolve(e.Prefix, abs)
	if !res.Virtual {
		return -1
	}
	*isVirtual = 1
	if res.Escaped {
		setErrno(errnoENOENT)
		return -1
	}
	stream, err := e.Readdir(res.VPath)
	if err != nil {
		setErrnoForError(err)
		return -1
	}

	dirStreamsMu.Lock()
	nextDirStream++
	id := nextDirStream
	dirStreams[id] = stream
	dirStreamsMu.Unlock()
	return C.longlong(id)
}

//export vriftClosedirStreamImpl
func vriftClosedirStreamImpl(streamID C.longlong) {
	dirStreamsMu.Lock()
	delete(dirStreams, int64(streamID))
	dirStreamsMu.Unlock()
}

//export vriftReaddirNextImpl
func vriftReaddirNextImpl(streamID C.longlong, nameOut *C.char, nameCap C.int, inoOut *C.ulonglong, typeOut *C.uint) C.int {
	dirStreamsMu.Lock()
	stream, ok := dirStreams[int64(streamID)]
	dirStreamsMu.Unlock()
	if !ok {
		return 0
	}
	entry, ok := stream.Next()
	if !ok {
		return 0
	}
	n := len(entry.Name)
	if n > int(nameCap)-1 {
		n = int(nameCap) - 1
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(nameOut)), nameCap)
	copy(dst, entry.Name[:n])
	dst[n] = 0
	*inoOut = C.ulonglong(entry.Ino)
	*typeOut = C.uint(directoryKindToDType(entry.Kind))
	return 1
}

// directoryKindToDType maps a vnode entry kind to the DT_* constants
// readdir(3) callers expect in d_type (DT_UNKNOWN is always a legal
// fallback per the contract, but these are cheap to get right).
func directoryKindToDType(k vnode.Kind) uint32 {
	switch k {
	case vnode.Directory:
		return 4 // DT_DIR
	case vnode.Symlink:
		return 10 // DT_LNK
	default:
		return 8 // DT_REG
	}
}
