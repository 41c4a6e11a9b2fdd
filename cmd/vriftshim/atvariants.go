package main

/*
#include "shim.h"
*/
import "C"

import (
	"time"
	"unsafe"
)

// unlinkat's AT_REMOVEDIR flag distinguishes rmdir-style removal from
// unlink-style at the libc prototype level only; Engine.Remove already
// handles both a RegularFile and an empty Directory entry uniformly, the
// same way mutate.go's vriftUnlinkImpl and vriftRmdirImpl both do today.

//export vriftUnlinkatImpl
func vriftUnlinkatImpl(dirfd C.int, cPath *C.char, flags C.int) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_unlinkat(dirfd, cPath, flags)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, dirfdRelativePath(cPath, dirfd))
	if passthrough {
		return C.vrift_real_unlinkat(dirfd, cPath, flags)
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

//export vriftMkdiratImpl
func vriftMkdiratImpl(dirfd C.int, cPath *C.char, mode C.mode_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_mkdirat(dirfd, cPath, mode)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, dirfdRelativePath(cPath, dirfd))
	if passthrough {
		return C.vrift_real_mkdirat(dirfd, cPath, mode)
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

//export vriftSymlinkatImpl
func vriftSymlinkatImpl(cTarget *C.char, newdirfd C.int, cLinkpath *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_symlinkat(cTarget, newdirfd, cLinkpath)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, dirfdRelativePath(cLinkpath, newdirfd))
	if passthrough {
		return C.vrift_real_symlinkat(cTarget, newdirfd, cLinkpath)
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

//export vriftRenameatImpl
func vriftRenameatImpl(olddirfd C.int, cOld *C.char, newdirfd C.int, cNew *C.char) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_renameat(olddirfd, cOld, newdirfd, cNew)
	}
	oldV, oldPass, oldEsc := resolveOrPassthrough(e, dirfdRelativePath(cOld, olddirfd))
	newV, newPass, newEsc := resolveOrPassthrough(e, dirfdRelativePath(cNew, newdirfd))

	if oldPass && newPass {
		return C.vrift_real_renameat(olddirfd, cOld, newdirfd, cNew)
	}
	if oldEsc || newEsc {
		setErrno(errnoENOENT)
		return -1
	}
	if oldPass != newPass {
		setErrno(errnoEXDEV)
		return -1
	}
	if err := e.Rename(oldV, newV); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

// vriftFchownatImpl and vriftFchownImpl are no-ops that report success for
// virtual paths: vnode.Entry carries no uid/gid (ownership was never part
// of the Manifest's schema), so there is nothing for a change of owner to
// record. Reporting success rather than ENOSYS matches the common case of
// chown-to-current-owner a build tool performs and keeps those tools from
// aborting on an otherwise-successful extraction.
//
//export vriftFchownatImpl
func vriftFchownatImpl(dirfd C.int, cPath *C.char, owner, group C.uid_t, flags C.int) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_fchownat(dirfd, cPath, owner, group, flags)
	}
	_, passthrough, escaped := resolveOrPassthrough(e, dirfdRelativePath(cPath, dirfd))
	if passthrough {
		return C.vrift_real_fchownat(dirfd, cPath, owner, group, flags)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	return 0
}

//export vriftFchownImpl
func vriftFchownImpl(fd C.int, owner, group C.uid_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_fchown(fd, owner, group)
	}
	if _, ok := e.FDs.Lookup(int32(fd)); ok {
		return 0
	}
	return C.vrift_real_fchown(fd, owner, group)
}

// vriftUtimensatImpl and vriftFutimensImpl only carry the mtime half of
// struct timespec[2] through to Engine.Utime; atime is not part of
// vnode.Entry (the manifest schema tracks only mtime), matching stat's own
// synthesis of atime from mtime. The original times pointer is forwarded
// unchanged on every passthrough path so a real (non-virtual) file never
// loses the caller's requested atime half.
//
//export vriftUtimensatImpl
func vriftUtimensatImpl(dirfd C.int, cPath *C.char, times *C.struct_timespec, flags C.int) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_utimensat(dirfd, cPath, times, flags)
	}
	vpath, passthrough, escaped := resolveOrPassthrough(e, dirfdRelativePath(cPath, dirfd))
	if passthrough {
		return C.vrift_real_utimensat(dirfd, cPath, times, flags)
	}
	if escaped {
		setErrno(errnoENOENT)
		return -1
	}
	mtimeNS := mtimeFromTimespecPair(times)
	if err := e.Utime(vpath, mtimeNS); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

//export vriftFutimensImpl
func vriftFutimensImpl(fd C.int, times *C.struct_timespec) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_futimens(fd, times)
	}
	rec, ok := e.FDs.Lookup(int32(fd))
	if !ok {
		return C.vrift_real_futimens(fd, times)
	}
	mtimeNS := mtimeFromTimespecPair(times)
	if err := e.Utime(rec.VPath, mtimeNS); err != nil {
		setErrnoForError(err)
		return -1
	}
	return 0
}

// mtimeFromTimespecPair reads the mtime (second) entry of a struct
// timespec[2] as passed to utimensat(2)/futimens(2); a nil array means
// "set both to now", matching the syscall's own documented default.
func mtimeFromTimespecPair(times *C.struct_timespec) int64 {
	if times == nil {
		return time.Now().UnixNano()
	}
	pair := (*[2]C.struct_timespec)(unsafe.Pointer(times))
	mtime := pair[1]
	return int64(mtime.tv_sec)*int64(time.Second) + int64(mtime.tv_nsec)
}

// dirfdRelativePath folds a dirfd-relative *at path into the same
// "absolute path" shape resolveOrPassthrough and shimcore.Resolve expect,
// reusing the /proc/self/fd indirection open.go's resolveAgainstCwdOrDirfd
// already established for openat.
func dirfdRelativePath(cPath *C.char, dirfd C.int) string {
	return resolveAgainstCwdOrDirfd(C.GoString(cPath), true, int(dirfd))
}
