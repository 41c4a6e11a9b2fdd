package main

/*
#include "shim.h"
*/
import "C"

import (
	"os"
	"path/filepath"
	"unsafe"

	"github.com/velo-sh/rift/internal/shimcore"
)

const (
	oAccmode   = 0x3
	oWronly    = 0x1
	oRdwr      = 0x2
	oCreat     = 0x40
	oTrunc     = 0x200
	oAppend    = 0x400
	oExcl      = 0x80
	oDirectory = 0x10000
)

func classifyFlags(flags int32) shimcore.OpenFlags {
	return shimcore.OpenFlags{
		WriteOnly: flags&oAccmode == oWronly,
		ReadWrite: flags&oAccmode == oRdwr,
		Create:    flags&oCreat != 0,
		Truncate:  flags&oTrunc != 0,
		Append:    flags&oAppend != 0,
		Excl:      flags&oExcl != 0,
		Directory: flags&oDirectory != 0,
	}
}

//export vriftOpenImpl
func vriftOpenImpl(cPath *C.char, cFlags C.int, cMode C.mode_t, hasDirfd C.int, dirfd C.int) C.int {
	path := C.GoString(cPath)
	flags := int32(cFlags)

	e := ensureReady()
	if e == nil {
		return rawOpen(cPath, cFlags, cMode, hasDirfd, dirfd)
	}

	abs := resolveAgainstCwdOrDirfd(path, hasDirfd != 0, int(dirfd))
	res := shimcore.Resolve(e.Prefix, abs)
	if !res.Virtual {
		return rawOpen(cPath, cFlags, cMode, hasDirfd, dirfd)
	}
	if res.Escaped {
		setErrno(errnoENOENT)
		return -1
	}

	cf := classifyFlags(flags)
	wantsWrite := cf.WriteOnly || cf.ReadWrite || cf.Create || cf.Truncate

	if !wantsWrite {
		result, err := e.OpenRead(res.VPath, casBlobPath)
		if err != nil {
			setErrnoForError(err)
			return -1
		}
		return openStagedOrBlob(e, result.HostPath, result.Record, false)
	}

	result, err := e.OpenWrite(res.VPath, cf.Truncate, cf.Create && cf.Excl, uint32(cMode))
	if err != nil {
		setErrnoForError(err)
		return -1
	}
	// A write-intent open is conservatively treated as dirty from the
	// start: write/pwrite/writev/mmap(PROT_WRITE) on the returned fd are
	// passthrough to the real fd at this layer (no content interception),
	// so there is no later hook that would otherwise flip Dirty on.
	// Closing without ever writing still costs one redundant CommitWrite,
	// which is idempotent against an unchanged hash.
	result.Record.Dirty = true
	return openStagedOrBlob(e, result.HostPath, result.Record, true)
}

// rawOpen forwards to the original symbol for a non-virtual path. cPath is
// the caller's own C string; it is not freed here since ownership remains
// with the caller's stack frame.
func rawOpen(cPath *C.char, flags C.int, mode C.mode_t, hasDirfd C.int, dirfd C.int) C.int {
	if hasDirfd != 0 {
		return C.vrift_real_openat(dirfd, cPath, flags, mode)
	}
	return C.vrift_real_open(cPath, flags, mode)
}

// openStagedOrBlob opens hostPath with the real open symbol and records fd
// tracking, returning the fd the caller's libc call should observe.
func openStagedOrBlob(e *shimcore.Engine, hostPath string, rec *shimcore.OpenFileRecord, writeIntent bool) C.int {
	cHost := C.CString(hostPath)
	defer C.free(unsafe.Pointer(cHost))

	flags := C.int(0) // O_RDONLY for reads; staging files are always opened O_RDWR for writes
	if writeIntent {
		flags = C.int(oRdwr)
	}
	fd := C.vrift_real_open(cHost, flags, 0)
	if fd < 0 {
		return fd
	}
	e.FDs.Insert(int32(fd), rec)
	return fd
}

// resolveAgainstCwdOrDirfd makes path absolute per pipeline step 1: against
// a provided dirfd for *at variants, or the process cwd otherwise. A dirfd
// resolution that cannot be read (e.g. /proc/self/fd unavailable) falls
// back to the process cwd, which only matters for the non-virtual-prefix
// passthrough decision since a genuinely dirfd-relative virtual path
// without /proc support is documented as a platform limitation.
func resolveAgainstCwdOrDirfd(path string, hasDirfd bool, dirfd int) string {
	if filepath.IsAbs(path) {
		return path
	}
	if hasDirfd {
		if base, err := dirfdPath(dirfd); err == nil {
			return filepath.Join(base, path)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(wd, path)
}

func dirfdPath(dirfd int) (string, error) {
	const atFdcwd = -100
	if dirfd == atFdcwd {
		return os.Getwd()
	}
	return os.Readlink("/proc/self/fd/" + itoa(dirfd))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
