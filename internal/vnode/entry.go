// Package vnode defines the Manifest's value type (VnodeEntry) and the
// VirtualPath canonicalization rules the Shim's resolution pipeline uses.
package vnode

import (
	"github.com/velo-sh/rift/internal/hashid"
)

// Kind enumerates the three file types the Manifest tracks.
type Kind uint8

const (
	RegularFile Kind = iota
	Directory
	Symlink
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return "file"
	}
}

// Entry is the Manifest's VnodeEntry. Serialization (see internal/manifest) is
// plain JSON of these fields with no schema tag byte; a field added later
// decodes as its zero value from records written before it existed.
type Entry struct {
	Mode          uint32
	Size          int64
	MtimeNS       int64 // nanoseconds since epoch
	Hash          hashid.ContentHash
	Kind          Kind
	SymlinkTarget string // only meaningful when Kind == Symlink
}

// BlobRef returns the BlobRef backing e, valid only for RegularFile entries.
func (e Entry) BlobRef() hashid.BlobRef {
	return hashid.BlobRef{Hash: e.Hash, Size: e.Size}
}

// VirtualDev is the synthetic st_dev constant stat results carry:
// 0x52494654 spells "RIFT" in ASCII.
const VirtualDev uint64 = 0x52494654

// StableInode derives a stable st_ino for vpath: a stable hash masked
// into a positive int63. FNV-1a is used rather than
// BLAKE3 here deliberately: this value never leaves the host, is never
// persisted, and a cryptographic hash would be needless overhead on every
// stat() call.
func StableInode(vpath string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(vpath); i++ {
		h ^= uint64(vpath[i])
		h *= prime64
	}
	return h & ((1 << 63) - 1)
}
