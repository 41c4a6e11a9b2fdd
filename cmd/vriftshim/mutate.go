package main

/*
#include "shim.h"
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/velo-sh/rift/internal/shimcore"
)

// resolveOrPassthrough runs the path-resolution pipeline for a single-path
// mutating call. passthrough is true only for a non-virtual path, which the
// caller hands to the raw libc call; escaped is true for a path that walked
// above the prefix, which the caller surfaces as ENOENT without ever
// reaching a real syscall.
func resolveOrPassthrough(e *shimcore.Engine, path string) (vpath string, passthrough bool, escaped bool) {
	abs := resolveAgainstCwdOrDirfd(path, false, 0)
	res := shimcore.Resolve(e.Prefix, abs)
	if !res.Virtual {
		return "", true, false
	}
	if res.Escaped {
		return "", false, true
	}
	return res.VPath, false, false
}

//export vriftUnlinkImpl
func vriftUnlinkImpl(cPath *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_unlink(cPath)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_unlink(cPath)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	if err := e.Remove(vpath); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftRmdirImpl
func vriftRmdirImpl(cPath *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_rmdir(cPath)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_rmdir(cPath)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	if err := e.Remove(vpath); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftRenameImpl
func vriftRenameImpl(cOld, cNew *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_rename(cOld, cNew)
	}
	oldPath, newPath := C.GoString(cOld), C.GoString(cNew)
	oldV, oldPass, oldEsc := resolveOrPassthrough(e, oldPath)
	newV, newPass, newEsc := resolveOrPassthrough(e, newPath)

	if oldPass && newPass {
		return C.vrift_real_rename(cOld, cNew)
	}
	if oldEsc || newEsc {
		setErrno(errnoENOENT)
		return -1
	}
	if oldPass != newPass {
		// A rename crossing between the virtual tree and a real path is
		// not a single atomic operation either side can perform.
		setErrno(errnoEXDEV)
		return -1
	}
	if err := e.Rename(oldV, newV); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftMkdirImpl
func vriftMkdirImpl(cPath *C.char, mode C.mode_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_mkdir(cPath, mode)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_mkdir(cPath, mode)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	if err := e.Mkdir(vpath, uint32(mode)); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftChmodImpl
func vriftChmodImpl(cPath *C.char, mode C.mode_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_chmod(cPath, mode)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_chmod(cPath, mode)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	if err := e.Chmod(vpath, uint32(mode)); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftSymlinkImpl
func vriftSymlinkImpl(cTarget, cLinkpath *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_symlink(cTarget, cLinkpath)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cLinkpath))
	if passthrough {
		return C.vrift_real_symlink(cTarget, cLinkpath)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	if err := e.Symlink(vpath, C.GoString(cTarget), 0o777); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftReadlinkImpl
func vriftReadlinkImpl(cPath *C.char, buf *C.char, bufsz C.size_t) C.ssize_t {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_readlink(cPath, buf, bufsz)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_readlink(cPath, buf, bufsz)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	target, err := e.Readlink(vpath)
	if err != nil {
		setErrnoForError(err)
		return -1
	}
	n := copyStringIntoBuf(target, buf, uint64(bufsz))
	return C.ssize_t(n)
}

func copyStringIntoBuf(s string, buf *C.char, bufsz uint64) int {
	n := uint64(len(s))
	if n > bufsz {
		n = bufsz
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), n)
	copy(dst, s[:n])
	return int(n)
}

//export vriftTruncateImpl
func vriftTruncateImpl(cPath *C.char, length C.off_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_truncate(cPath, length)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, C.GoString(cPath))
	if passthrough {
		return C.vrift_real_truncate(cPath, length)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	// truncate(2) on a virtual path is a write-intent open-for-write
	// followed by an immediate commit of the (possibly shrunk) content;
	// there is no standalone "truncate in place" RPC, so this opens a
	// staging copy at the requested length and commits it directly.
	result, err := e.OpenWrite(vpath, false, false, 0o644)
	if err != nil {
		setErrnoForError(err)
		return -1
	}
	if terr := truncateHostFile(result.HostPath, int64(length)); terr != nil {
		setErrno(errnoEIO)
		return -1
	}
	ref, herr := hashStagingFile(result.HostPath)
	if herr != nil {
		setErrno(errnoEIO)
		return -1
	}
	if err := e.CloseWritten(result.Record, ref, time.Now().UnixNano()); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}
