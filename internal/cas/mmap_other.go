//go:build !linux

package cas

import (
	"fmt"
	"io"
	"os"

	"github.com/velo-sh/rift/internal/hashid"
)

// MappedBlob degrades to a fully-read in-memory buffer on platforms where
// this package does not implement mmap(2). Velo Rift's primary deployment
// target is Linux; this fallback keeps the package buildable elsewhere
// without claiming a zero-copy guarantee it cannot keep (VRIFT_DISABLE_MMAP
// effectively applies unconditionally on these platforms).
type MappedBlob struct {
	Data []byte
	file *os.File
}

func (m *MappedBlob) Close() error {
	m.Data = nil
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

// GetMmap reads ref's blob fully into memory, see MappedBlob doc above.
func (s *Store) GetMmap(ref hashid.BlobRef) (*MappedBlob, error) {
	f, err := s.Open(ref)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cas: read (mmap fallback): %w", err)
	}
	return &MappedBlob{Data: data, file: f}, nil
}

// setImmutable is a no-op outside Linux; immutability is still enforced
// by the 0444 permission bits set in Insert.
func setImmutable(_ string) {}
