//go:build linux

package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const headerSize = 8

var headerMu sync.Mutex

// publishGeneration writes generation into dir's fixed-size mmap'd header
// region and msyncs it, giving readers that keep the region mapped an
// atomic-pointer-swap-equivalent way to observe the new value without
// reopening the file: a single uint64 generation value, msync'd after the
// snapshot file it names is fully published.
func publishGeneration(dir string, generation uint64) error {
	headerMu.Lock()
	defer headerMu.Unlock()

	path := filepath.Join(dir, "generation.head")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("manifest: open generation header: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(headerSize); err != nil {
		return fmt.Errorf("manifest: size generation header: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, headerSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("manifest: mmap generation header: %w", err)
	}
	defer unix.Munmap(data) //nolint:errcheck

	binary.LittleEndian.PutUint64(data, generation)
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("manifest: msync generation header: %w", err)
	}

	currentGeneration.Store(generation)
	return nil
}

// ReadGenerationHeader mmaps dir's header read-only and returns the
// published generation, the read-side counterpart of publishGeneration used
// by a process that only consumes snapshots (e.g. a second Shim process
// sharing a Daemon).
func ReadGenerationHeader(dir string) (uint64, error) {
	path := filepath.Join(dir, "generation.head")
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("manifest: open generation header: %w", err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, headerSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, fmt.Errorf("manifest: mmap generation header: %w", err)
	}
	defer unix.Munmap(data) //nolint:errcheck

	return binary.LittleEndian.Uint64(data), nil
}
