package shimcore

import (
	"github.com/velo-sh/rift/internal/vnode"
)

// Resolution is the outcome of running a raw path through the resolution
// pipeline: canonicalize in virtual space,
// confirm it falls under the configured prefix, and hand back the clean
// virtual path a Dispatch call can use against the Manifest.
type Resolution struct {
	VPath   string
	Virtual bool // false means "not under vfs_prefix, passthrough to the real syscall"
	Escaped bool // true means the path attempted to walk above vfs_prefix
}

// Resolve runs rawPath (already made absolute against cwd or a dirfd by the
// caller, per step 1 of the pipeline) through canonicalization and the
// prefix check. A path outside prefix is reported as non-virtual, never as
// an error: the caller's job is to fall through to the real libc symbol.
func Resolve(prefix, rawPath string) Resolution {
	if !vnode.HasPrefix(prefix, rawPath) {
		clean, ok := vnode.Canonicalize(prefix, rawPath)
		if !ok {
			return Resolution{Virtual: false}
		}
		return Resolution{VPath: clean, Virtual: true}
	}
	clean, ok := vnode.Canonicalize(prefix, rawPath)
	if !ok {
		// Started under prefix textually but a ".." walked it above the
		// root of the virtual space: this must resolve to ENOENT,
		// never fall through to the host path it would otherwise name.
		return Resolution{Virtual: true, Escaped: true}
	}
	return Resolution{VPath: clean, Virtual: true}
}

// OpenFlags mirrors the subset of O_* flags path resolution and dispatch
// care about, decoupled from any particular platform's numeric constants
// (cmd/vriftshim translates raw flags into this struct before calling in).
type OpenFlags struct {
	WriteOnly bool
	ReadWrite bool
	Create    bool
	Truncate  bool
	Append    bool
	Excl      bool
	Directory bool
}

// ClassifyOpen reports whether flags express write intent (O_WRONLY,
// O_RDWR, O_CREAT, or O_TRUNC), routing the open to OpenForWrite instead
// of the read fast path.
func ClassifyOpen(flags OpenFlags) (writeIntent bool) {
	return flags.WriteOnly || flags.ReadWrite || flags.Create || flags.Truncate
}
