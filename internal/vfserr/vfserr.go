// Package vfserr defines the error taxonomy shared by every Velo Rift
// component. Kinds are sentinel values compared with errors.Is. An error the
// Daemon returns over IPC is not rebuilt into a Kind on the Shim side: it
// arrives as a protocol error carrying its wire Status. cmd/vriftshim maps
// both forms to errno only at the syscall boundary.
package vfserr

import "errors"

// Kind identifies one of the closed set of error categories.
type Kind int

const (
	// Internal is the catch-all for unexpected conditions. In the Shim this
	// always routes to passthrough rather than failing the caller; it never
	// reaches a host process as a returned errno on its own.
	Internal Kind = iota
	NotFound
	PermissionDenied
	ReadOnly
	CrossDevice
	Exists
	NotADirectory
	IsADirectory
	IntegrityError
	ManifestCorrupt
	DaemonUnreachable
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case PermissionDenied:
		return "PermissionDenied"
	case ReadOnly:
		return "ReadOnly"
	case CrossDevice:
		return "CrossDevice"
	case Exists:
		return "Exists"
	case NotADirectory:
		return "NotADirectory"
	case IsADirectory:
		return "IsADirectory"
	case IntegrityError:
		return "IntegrityError"
	case ManifestCorrupt:
		return "ManifestCorrupt"
	case DaemonUnreachable:
		return "DaemonUnreachable"
	default:
		return "Internal"
	}
}

// Error is a Kind carrying a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "cas.Insert", "manifest.Lookup"
	Path string // vpath or blob path involved, if any
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// Is reports whether err wraps an *Error of the given Kind, unwrapping
// through fmt.Errorf("%w") chains with errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
