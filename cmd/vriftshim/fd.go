package main

/*
#include "shim.h"
*/
import "C"

//export vriftFtruncateImpl
func vriftFtruncateImpl(fd C.int, length C.off_t) C.int {
	ret := C.vrift_real_ftruncate(fd, length)
	if ret != 0 {
		return ret
	}
	e := ensureReady()
	if e == nil {
		return 0
	}
	if rec, ok := e.FDs.Lookup(int32(fd)); ok && rec.WriteIntent {
		rec.Dirty = true
	}
	return 0
}

//export vriftFchmodImpl
func vriftFchmodImpl(fd C.int, mode C.mode_t) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_fchmod(fd, mode)
	}
	rec, ok := e.FDs.Lookup(int32(fd))
	if !ok {
		return C.vrift_real_fchmod(fd, mode)
	}
	if err := e.Chmod(rec.VPath, uint32(mode)); err != nil {
		setErrnoForError(err)
		return -1
	}
	return C.vrift_real_fchmod(fd, mode)
}

//export vriftDupImpl
func vriftDupImpl(fd C.int) C.int {
	newFD := C.vrift_real_dup(fd)
	if newFD < 0 {
		return newFD
	}
	e := ensureReady()
	if e != nil {
		e.FDs.Alias(int32(fd), int32(newFD))
	}
	return newFD
}

//export vriftDup2Impl
func vriftDup2Impl(oldFD, newFD C.int) C.int {
	ret := C.vrift_real_dup2(oldFD, newFD)
	if ret < 0 {
		return ret
	}
	e := ensureReady()
	if e != nil {
		// dup2 implicitly closes any fd previously open at newFD; a
		// dirty write-intent record displaced this way is dropped without
		// a CommitWrite, matching what a real close(2) the caller never
		// issued would have left uncommitted.
		e.FDs.Remove(int32(newFD))
		e.FDs.Alias(int32(oldFD), int32(newFD))
	}
	return ret
}
