package main

/*
#include "shim.h"
*/
import "C"

import (
	"errors"

	"github.com/velo-sh/rift/internal/shimcore"
	"github.com/velo-sh/rift/internal/vnode"
)

//export vriftStatImpl
func vriftStatImpl(cPath *C.char, buf *C.struct_stat, followSymlink C.int) C.int {
	path := C.GoString(cPath)

	e := ensureReady()
	if e == nil {
		return rawStat(cPath, buf, followSymlink)
	}

	abs := resolveAgainstCwdOrDirfd(path, false, 0)
	res := shimcore.Resolve(e.Prefix, abs)
	if !res.Virtual {
		return rawStat(cPath, buf, followSymlink)
	}
	if res.Escaped {
		setErrno(errnoENOENT)
		return -1
	}

	// stat follows symlink entries through the Manifest to the target they
	// name; lstat reports the link's own metadata.
	var (
		entry    vnode.Entry
		statPath string
		err      error
	)
	if followSymlink != 0 {
		entry, statPath, err = e.StatFollow(res.VPath)
	} else {
		statPath = res.VPath
		entry, err = e.Stat(res.VPath)
	}
	if err != nil {
		if errors.Is(err, shimcore.ErrSymlinkLoop) {
			setErrno(errnoELOOP)
			return -1
		}
		setErrnoForError(err)
		return -1
	}
	fillStat(buf, entry, statPath)
	return 0
}

//export vriftFstatImpl
func vriftFstatImpl(fd C.int, buf *C.struct_stat) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_fstat(fd, buf)
	}
	rec, ok := e.FDs.Lookup(int32(fd))
	if !ok {
		return C.vrift_real_fstat(fd, buf)
	}
	entry, err := e.Stat(rec.VPath)
	if err != nil {
		setErrnoForError(err)
		return -1
	}
	fillStat(buf, entry, rec.VPath)
	return 0
}

func rawStat(cPath *C.char, buf *C.struct_stat, followSymlink C.int) C.int {
	if followSymlink != 0 {
		return C.vrift_real_stat(cPath, buf)
	}
	return C.vrift_real_lstat(cPath, buf)
}

func fillStat(buf *C.struct_stat, entry vnode.Entry, vpath string) {
	C.vrift_fill_stat(buf,
		C.uint(entry.Mode),
		C.longlong(entry.Size),
		C.longlong(entry.MtimeNS),
		C.ulonglong(vnode.VirtualDev),
		C.ulonglong(vnode.StableInode(vpath)),
	)
}
