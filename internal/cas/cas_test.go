package cas

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velo-sh/rift/internal/hashid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestInsertAndRead(t *testing.T) {
	s := newTestStore(t)
	content := []byte("hello velo rift")

	ref, isNew, err := s.Insert(bytes.NewReader(content))
	require.NoError(t, err)
	require.True(t, isNew)
	require.EqualValues(t, len(content), ref.Size)

	r, err := s.Read(ref)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// Inserting identical content twice is idempotent: same ref, second
// call reports a dedup hit and the store ends up with exactly one blob.
func TestInsertDedup(t *testing.T) {
	s := newTestStore(t)
	content := []byte("duplicate me")

	ref1, isNew1, err := s.Insert(bytes.NewReader(content))
	require.NoError(t, err)
	require.True(t, isNew1)

	ref2, isNew2, err := s.Insert(bytes.NewReader(content))
	require.NoError(t, err)
	require.False(t, isNew2)
	require.Equal(t, ref1, ref2)

	var count int
	err = filepath.WalkDir(s.Root(), func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			if _, ok := parseBlobFilename(filepath.Base(path)); ok {
				count++
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// A concurrent insert of identical content never corrupts the store;
// both callers observe a valid, readable blob.
func TestInsertConcurrentSameContent(t *testing.T) {
	s := newTestStore(t)
	content := bytes.Repeat([]byte("x"), 4096)

	const n = 8
	refs := make([]hashid.BlobRef, n)
	errs := make([]error, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ref, _, err := s.Insert(bytes.NewReader(content))
			refs[i] = ref
			errs[i] = err
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, refs[0], refs[i])
	}

	r, err := s.Read(refs[0])
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// Zero-byte blobs are a valid, distinct content address.
func TestInsertEmptyBlob(t *testing.T) {
	s := newTestStore(t)
	ref, isNew, err := s.Insert(bytes.NewReader(nil))
	require.NoError(t, err)
	require.True(t, isNew)
	require.EqualValues(t, 0, ref.Size)
	require.True(t, s.Exists(ref))

	r, err := s.Read(ref)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	missing := hashid.ContentHash("ab000000000000000000000000000000000000000000000000000000000000cd")
	require.True(t, missing.Valid())
	ref := hashid.BlobRef{Hash: missing, Size: 5}
	_, err := s.Read(ref)
	require.Error(t, err)
}

// Blobs are published read-only; nothing in this package ever reopens
// one for writing.
func TestBlobIsReadOnlyAfterInsert(t *testing.T) {
	s := newTestStore(t)
	ref, _, err := s.Insert(bytes.NewReader([]byte("immutable")))
	require.NoError(t, err)

	p, err := s.GetPath(ref)
	require.NoError(t, err)
	info, err := os.Stat(p)
	require.NoError(t, err)
	require.Zero(t, info.Mode().Perm()&0o222, "blob must not be writable by anyone")
}

func TestVerifyDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	ref, _, err := s.Insert(bytes.NewReader([]byte("trust me")))
	require.NoError(t, err)
	require.NoError(t, s.Verify(ref))

	p, err := s.GetPath(ref)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(p, 0o644))
	require.NoError(t, os.WriteFile(p, []byte("tampered!"), 0o644))

	err = s.Verify(ref)
	require.Error(t, err)
}

func TestGCRemovesUnreachable(t *testing.T) {
	s := newTestStore(t)
	kept, _, err := s.Insert(bytes.NewReader([]byte("keep me")))
	require.NoError(t, err)
	gone, _, err := s.Insert(bytes.NewReader([]byte("collect me")))
	require.NoError(t, err)

	reachable := map[hashid.BlobRef]struct{}{kept: {}}
	removed, err := s.GC(reachable, nil)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	require.True(t, s.Exists(kept))
	require.False(t, s.Exists(gone))
}

func TestGCSparesOpenBlobs(t *testing.T) {
	s := newTestStore(t)
	ref, _, err := s.Insert(bytes.NewReader([]byte("held open")))
	require.NoError(t, err)

	removed, err := s.GC(nil, func(hashid.BlobRef) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.True(t, s.Exists(ref))
}

func TestGetMmapRoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := []byte("mapped content")
	ref, _, err := s.Insert(bytes.NewReader(content))
	require.NoError(t, err)

	m, err := s.GetMmap(ref)
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, content, m.Data)
}
