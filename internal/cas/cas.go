// Package cas implements the Content-Addressable Store: immutable,
// globally-deduplicated blob storage keyed by BLAKE3 content hash.
//
// Blobs live at:
//
//	CAS_ROOT/<hash[0:2]>/<hash[2:4]>/<hash>_<size>.bin
//
// Writers publish via temp-file-then-rename; a per-hash dedup lock pool
// (sync.Map of refcounted mutexes) keeps concurrent identical inserts from
// doing redundant work.
package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/metrics"
	"github.com/velo-sh/rift/internal/vfserr"
)

// Store is a content-addressable blob store rooted on the local filesystem.
type Store struct {
	root string
	mu   sync.Map // map[hashid.ContentHash]*hashEntry, per-hash write lock pool
}

// hashEntry pairs a mutex with a reference count, exactly as cas.go's
// hashEntry does, so the sync.Map does not grow without bound over the
// daemon's lifetime.
type hashEntry struct {
	mu   sync.Mutex
	refs int32
}

// New creates (or reopens) a CAS store rooted at root, creating the
// directory layout if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("cas: create root %q: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o750); err != nil {
		return nil, fmt.Errorf("cas: create tmp dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cas: resolve root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the store's absolute root directory.
func (s *Store) Root() string { return s.root }

// blobPath returns the fan-out path for ref, validating the hash first:
// every hash handed to the store is syntactically checked before any path
// construction.
func (s *Store) blobPath(ref hashid.BlobRef) (string, error) {
	if !ref.Hash.Valid() {
		return "", vfserr.New(vfserr.Internal, "cas.blobPath", string(ref.Hash), fmt.Errorf("malformed content hash"))
	}
	a, b := ref.Hash.FanoutDir()
	name := fmt.Sprintf("%s_%d.bin", ref.Hash, ref.Size)
	return filepath.Join(s.root, a, b, name), nil
}

// GetPath returns the deterministic host path for ref. Pure: no I/O, no
// existence check.
func (s *Store) GetPath(ref hashid.BlobRef) (string, error) {
	return s.blobPath(ref)
}

// Exists reports whether ref's blob is present, via stat only.
func (s *Store) Exists(ref hashid.BlobRef) bool {
	p, err := s.blobPath(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Insert streams r through a BLAKE3 hasher into a temp file, then either
// finds an existing identical blob (dedup hit, isNew=false, no disk write
// beyond the temp file which is discarded) or atomically publishes a new
// blob (isNew=true). Concurrent insertions of identical content race only on
// the final os.Rename; the loser observes an already-published file and
// discards its own temp file.
func (s *Store) Insert(r io.Reader) (ref hashid.BlobRef, isNew bool, err error) {
	tmpDir := filepath.Join(s.root, "tmp")
	tmp, err := os.CreateTemp(tmpDir, ".cas-"+uuid.NewString()+"-*")
	if err != nil {
		return hashid.BlobRef{}, false, fmt.Errorf("cas: create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := hashid.NewHasher()
	buf := make([]byte, 1<<20)
	_, werr := io.CopyBuffer(tmp, io.TeeReader(r, hasher), buf)
	cerr := tmp.Close()
	if werr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: stream: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: flush: %w", cerr)
	}

	hash, size := hasher.Sum()
	ref = hashid.BlobRef{Hash: hash, Size: size}
	blobAbs, perr := s.blobPath(ref)
	if perr != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, perr
	}

	unlock := s.lockHash(hash)
	defer unlock()

	if info, statErr := os.Stat(blobAbs); statErr == nil {
		if info.Size() != size {
			os.Remove(tmpPath) //nolint:errcheck
			return hashid.BlobRef{}, false, vfserr.New(vfserr.IntegrityError, "cas.Insert", blobAbs,
				fmt.Errorf("existing blob size %d does not match %d for hash %s", info.Size(), size, hash))
		}
		// Dedup hit: identical content already published.
		os.Remove(tmpPath) //nolint:errcheck
		return ref, false, nil
	} else if !os.IsNotExist(statErr) {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: stat blob: %w", statErr)
	}

	if err := os.MkdirAll(filepath.Dir(blobAbs), 0o750); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: mkdir blob dir: %w", err)
	}
	// Iron law of the store: blobs are 0444, no execute bits,
	// never modified in place. Set the mode before the rename publishes it.
	if err := os.Chmod(tmpPath, 0o444); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, blobAbs); err != nil {
		if os.IsExist(err) {
			// Lost the rename race to a concurrent identical insert.
			os.Remove(tmpPath) //nolint:errcheck
			return ref, false, nil
		}
		os.Remove(tmpPath) //nolint:errcheck
		return hashid.BlobRef{}, false, fmt.Errorf("cas: rename to %q: %w", blobAbs, err)
	}
	setImmutable(blobAbs)
	metrics.CASBlobsTotal.Inc()
	return ref, true, nil
}

// Read opens ref's blob for streaming. Caller must close the returned
// io.ReadCloser.
func (s *Store) Read(ref hashid.BlobRef) (io.ReadCloser, error) {
	p, err := s.blobPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vfserr.New(vfserr.NotFound, "cas.Read", p, err)
		}
		return nil, err
	}
	return f, nil
}

// Open opens ref's blob read-only and returns the *os.File directly, for
// callers (the Shim's read fast path) that need a real fd to hand back to
// the kernel rather than an io.ReadCloser abstraction.
func (s *Store) Open(ref hashid.BlobRef) (*os.File, error) {
	p, err := s.blobPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vfserr.New(vfserr.NotFound, "cas.Open", p, err)
		}
		return nil, err
	}
	return f, nil
}

// Verify re-hashes ref's blob and compares against ref, used by the
// background scrubber. A mismatch is an IntegrityError: the store never
// rewrites a blob to "fix" it.
func (s *Store) Verify(ref hashid.BlobRef) error {
	f, err := s.Open(ref)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := hashid.HashReader(f)
	if err != nil {
		return fmt.Errorf("cas: verify read: %w", err)
	}
	if got.Hash != ref.Hash || got.Size != ref.Size {
		metrics.CASIntegrityFailuresTotal.Inc()
		return vfserr.New(vfserr.IntegrityError, "cas.Verify", ref.String(),
			fmt.Errorf("recomputed %s (%d bytes), expected %s (%d bytes)", got.Hash, got.Size, ref.Hash, ref.Size))
	}
	return nil
}

// GC removes every blob not present in reachable and with no resident open
// handle (isOpen returns true to veto removal).
func (s *Store) GC(reachable map[hashid.BlobRef]struct{}, isOpen func(hashid.BlobRef) bool) (removed int, err error) {
	log := logging.WithComponent("cas")
	err = filepath.WalkDir(s.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ref, ok := parseBlobFilename(filepath.Base(path))
		if !ok {
			return nil // not a blob file (e.g. under tmp/)
		}
		if _, want := reachable[ref]; want {
			return nil
		}
		if isOpen != nil && isOpen(ref) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn().Str("blob", ref.String()).Err(rmErr).Msg("gc: remove failed")
			return nil
		}
		removed++
		return nil
	})
	if removed > 0 {
		metrics.CASBlobsTotal.Sub(float64(removed))
		log.Info().Int("removed", removed).Msg("gc: cycle complete")
	}
	return removed, err
}

// lockHash acquires a per-hash mutex and returns its unlock function,
// removing the entry from the pool once the last holder releases it.
func (s *Store) lockHash(hash hashid.ContentHash) (unlock func()) {
	v, _ := s.mu.LoadOrStore(hash, &hashEntry{})
	e := v.(*hashEntry)
	atomic.AddInt32(&e.refs, 1)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		if atomic.AddInt32(&e.refs, -1) == 0 {
			s.mu.CompareAndDelete(hash, e)
		}
	}
}

// parseBlobFilename recovers a BlobRef from a "<hash>_<size>.bin" filename.
func parseBlobFilename(name string) (hashid.BlobRef, bool) {
	const suffix = ".bin"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return hashid.BlobRef{}, false
	}
	base := name[:len(name)-len(suffix)]
	idx := -1
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '_' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return hashid.BlobRef{}, false
	}
	hash := hashid.ContentHash(base[:idx])
	if !hash.Valid() {
		return hashid.BlobRef{}, false
	}
	var size int64
	if _, err := fmt.Sscanf(base[idx+1:], "%d", &size); err != nil {
		return hashid.BlobRef{}, false
	}
	return hashid.BlobRef{Hash: hash, Size: size}, true
}
