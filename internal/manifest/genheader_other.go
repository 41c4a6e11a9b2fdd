//go:build !linux

package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const headerSize = 8

var headerMu sync.Mutex

// publishGeneration falls back to a plain write-and-sync on platforms
// where this package does not mmap the header region; readers must reopen
// and reread the file rather than observing an in-place atomic update.
func publishGeneration(dir string, generation uint64) error {
	headerMu.Lock()
	defer headerMu.Unlock()

	path := filepath.Join(dir, "generation.head")
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[:], generation)
	if err := os.WriteFile(path, buf[:], 0o640); err != nil {
		return fmt.Errorf("manifest: write generation header: %w", err)
	}
	currentGeneration.Store(generation)
	return nil
}

// ReadGenerationHeader reads back the generation written by
// publishGeneration.
func ReadGenerationHeader(dir string) (uint64, error) {
	path := filepath.Join(dir, "generation.head")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("manifest: read generation header: %w", err)
	}
	if len(data) < headerSize {
		return 0, fmt.Errorf("manifest: generation header truncated")
	}
	return binary.LittleEndian.Uint64(data), nil
}
