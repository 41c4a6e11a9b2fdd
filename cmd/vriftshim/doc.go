// Command vriftshim builds libvriftshim.so, a cgo c-shared library loaded
// into a host process via the dynamic loader's preload mechanism
// (LD_PRELOAD on Linux, DYLD_INSERT_LIBRARIES plus a flat-namespace hint on
// Darwin). It replaces a set of libc filesystem entry points with Go
// implementations that redirect virtual-path traffic to
// internal/shimcore's Engine and fall through to the real symbol for
// everything else.
//
// This package owns exactly the parts that must be cgo: capturing original
// symbol addresses, exporting C-ABI functions, and the process-lifecycle
// hooks (constructor, atfork). All decision logic lives in
// internal/shimcore, which has no cgo dependency and is unit-testable on
// its own.
package main

import "C"

// main is required by the Go toolchain for package main but is never
// invoked: this package is built with -buildmode=c-shared, where the
// dynamic loader calls the cgo constructor/init hooks instead.
func main() {}
