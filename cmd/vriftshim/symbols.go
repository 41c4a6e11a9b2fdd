package main

/*
#cgo LDFLAGS: -ldl
#include "shim.h"
*/
import "C"

import "sync/atomic"

// symbolsResolved guards the Go-side entry into shim.c's pthread_once
// symbol capture; the guard itself is distinct from shimcore.InitGuard,
// which additionally gates whether Engine logic runs at all. Every
// vrift_real_* wrapper in shim.c also self-resolves, so a call that reaches
// C before stage 2 has run never dereferences a null symbol pointer; this
// explicit resolution is stage 2's first action per the two-stage init
// discipline (no dlsym in the constructor).
var symbolsResolved int32

func resolveSymbolsOnce() {
	if atomic.CompareAndSwapInt32(&symbolsResolved, 0, 1) {
		C.vrift_resolve_symbols()
	}
}
