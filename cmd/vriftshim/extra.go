package main

/*
#include "shim.h"
*/
import "C"

//export vriftCopyFileRangeImpl
func vriftCopyFileRangeImpl(fdIn C.int, offIn *C.longlong, fdOut C.int, offOut *C.longlong, length C.size_t, flags C.uint) C.ssize_t {
	e := ensureReady()
	if e != nil {
		if recOut, ok := e.FDs.Lookup(int32(fdOut)); ok && recOut.WriteIntent {
			recOut.Dirty = true
		}
	}
	return C.vrift_real_copy_file_range(fdIn, offIn, fdOut, offOut, length, flags)
}

//export vriftFcntlDupImpl
func vriftFcntlDupImpl(fd, cmd, arg C.int) C.int {
	newFD := C.int(C.vrift_real_fcntl(fd, cmd, C.long(arg)))
	if newFD < 0 {
		return newFD
	}
	e := ensureReady()
	if e != nil {
		e.FDs.Alias(int32(fd), int32(newFD))
	}
	return newFD
}
