package protocol

import "github.com/velo-sh/rift/internal/hashid"

// Opcode identifies the operation a Request carries, the Shim-facing
// surface of the Daemon's operations.
type Opcode uint8

const (
	OpLookup Opcode = iota + 1
	OpReaddir
	OpOpenForWrite
	OpCommitWrite
	OpMkdir
	OpRemove
	OpRename
	OpSymlink
	OpReadlink
	OpChmod
	OpUtime
)

func (op Opcode) String() string {
	switch op {
	case OpLookup:
		return "lookup"
	case OpReaddir:
		return "readdir"
	case OpOpenForWrite:
		return "open_for_write"
	case OpCommitWrite:
		return "commit_write"
	case OpMkdir:
		return "mkdir"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpSymlink:
		return "symlink"
	case OpReadlink:
		return "readlink"
	case OpChmod:
		return "chmod"
	case OpUtime:
		return "utime"
	default:
		return "unknown"
	}
}

// Status is a Response's outcome, mapped from vfserr.Kind at the protocol
// boundary.
type Status uint8

const (
	StatusOK Status = iota
	StatusNotFound
	StatusPermissionDenied
	StatusReadOnly
	StatusCrossDevice
	StatusExists
	StatusNotADirectory
	StatusIsADirectory
	StatusIntegrityError
	StatusManifestCorrupt
	StatusInternal
)

// DirEntry is one entry of a Readdir response.
type DirEntry struct {
	Name string
	Mode uint32
	Kind uint8
}

// Request is the Shim->Daemon envelope. Only the fields relevant to Op are
// populated; the rest are left at their zero value.
type Request struct {
	Op            Opcode
	RequestID     string
	WorkspaceID   string
	VPath         string
	NewVPath      string
	Mode          uint32
	MtimeNS       int64
	Truncate      bool
	Excl          bool
	StagingHandle string
	Hash          hashid.ContentHash
	Size          int64
	SymlinkTarget string
}

// Response is the Daemon->Shim envelope.
type Response struct {
	RequestID     string
	Status        Status
	Message       string
	Mode          uint32
	Size          int64
	MtimeNS       int64
	Hash          hashid.ContentHash
	Kind          uint8
	SymlinkTarget string
	StagingHandle string
	HostPath      string
	Entries       []DirEntry
}
