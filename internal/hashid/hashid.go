// Package hashid defines ContentHash and BlobRef: the
// 256-bit BLAKE3 content identifier used throughout the CAS and Manifest.
//
// Streaming is chunked at 1 MiB to bound memory on large blobs without
// changing the hash function's output.
package hashid

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the byte length of a ContentHash (256 bits).
const Size = 32

// HexLen is the length of a ContentHash's hex string form.
const HexLen = Size * 2

// chunkSize bounds the read buffer used while streaming content through the
// hasher; it does not affect the digest, only peak memory.
const chunkSize = 1 << 20 // 1 MiB

// ContentHash is the hex-lowercase encoding of a 256-bit BLAKE3 digest.
// Strictly validated on every boundary crossing: length must be exactly
// HexLen and the charset must be [a-f0-9].
type ContentHash string

// Valid reports whether h is a syntactically well-formed ContentHash.
// Callers must validate before using h to construct any filesystem path;
// this is the one check that prevents a malformed hash from becoming a
// path-traversal primitive: path builders refuse hashes that do not match
// the charset or length.
func (h ContentHash) Valid() bool {
	if len(h) != HexLen {
		return false
	}
	for _, c := range []byte(h) {
		if !((c >= 'a' && c <= 'f') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// FanoutDir returns the two levels of fan-out directory names used by
// CAS_ROOT's layout: CAS_ROOT/<hash[0:2]>/<hash[2:4]>/<hash>_<size>.bin.
func (h ContentHash) FanoutDir() (a, b string) {
	return string(h[0:2]), string(h[2:4])
}

// BlobRef is the canonical identifier of a CAS entry: a ContentHash plus the
// size of the content it names. Size is redundant with the blob's on-disk
// length but is kept alongside the hash to defend against hash collisions
// and to allow size-based decisions without opening the blob.
type BlobRef struct {
	Hash ContentHash
	Size int64
}

func (r BlobRef) String() string {
	return fmt.Sprintf("%s_%d", r.Hash, r.Size)
}

// Valid reports whether r's hash is well-formed and its size is non-negative.
func (r BlobRef) Valid() bool {
	return r.Hash.Valid() && r.Size >= 0
}

// Hasher streams content through BLAKE3 in chunkSize reads, matching the
// streamed-hash discipline the CAS requires: a fixed chunk bounds memory
// regardless of blob size.
type Hasher struct {
	h    *blake3.Hasher
	size int64
}

// NewHasher returns a ready-to-use streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write implements io.Writer, hashing p and tracking cumulative size.
func (hs *Hasher) Write(p []byte) (int, error) {
	n, err := hs.h.Write(p)
	hs.size += int64(n)
	return n, err
}

// Sum returns the hex-encoded digest and total bytes written so far.
func (hs *Hasher) Sum() (ContentHash, int64) {
	var out [Size]byte
	digest := hs.h.Digest()
	digest.Read(out[:])
	return ContentHash(hex.EncodeToString(out[:])), hs.size
}

// HashReader streams r through a Hasher using a chunkSize buffer and returns
// the resulting BlobRef. cas.Store.Verify uses it to re-hash a stored blob,
// and cmd/vriftshim uses it to hash a staging file before CommitWrite;
// cas.Store.Insert does not call it, hashing through NewHasher while it
// writes its temp file.
func HashReader(r io.Reader) (BlobRef, error) {
	hs := NewHasher()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hs, r, buf); err != nil {
		return BlobRef{}, fmt.Errorf("hashid: stream: %w", err)
	}
	hash, size := hs.Sum()
	return BlobRef{Hash: hash, Size: size}, nil
}
