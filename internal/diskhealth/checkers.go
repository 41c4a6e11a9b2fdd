package diskhealth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DiskSpaceChecker fails once the filesystem backing Path drops below
// MinFreeBytes free, via unix.Statfs rather than shelling out to df.
type DiskSpaceChecker struct {
	Path         string
	MinFreeBytes uint64
}

func (c *DiskSpaceChecker) Type() CheckType { return CheckTypeDiskSpace }

func (c *DiskSpaceChecker) Check(ctx context.Context) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(c.Path, &stat); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("statfs %q: %v", c.Path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize) //nolint:unconvert
	if free < c.MinFreeBytes {
		return Result{Healthy: false, Message: fmt.Sprintf("only %d bytes free under %q, want >= %d", free, c.Path, c.MinFreeBytes)}
	}
	return Result{Healthy: true, Message: fmt.Sprintf("%d bytes free", free)}
}

// CASWritableChecker fails if the CAS root's tmp directory cannot accept a
// write-then-remove round trip, catching a read-only remount or
// permission regression before the Daemon starts refusing commits.
type CASWritableChecker struct {
	CASRoot string
}

func (c *CASWritableChecker) Type() CheckType { return CheckTypeCASWritable }

func (c *CASWritableChecker) Check(ctx context.Context) Result {
	probe := filepath.Join(c.CASRoot, "tmp", ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("write probe: %v", err)}
	}
	defer os.Remove(probe) //nolint:errcheck
	return Result{Healthy: true, Message: "cas tmp dir writable"}
}

// ManifestOpenChecker fails if the manifest directory cannot be read or
// holds a zero-byte .db layer file, catching a truncated bbolt file before
// readers start getting ManifestCorrupt errors one request at a time. It
// does not open the layer files.
type ManifestOpenChecker struct {
	ManifestDir string
}

func (c *ManifestOpenChecker) Type() CheckType { return CheckTypeManifestOpen }

func (c *ManifestOpenChecker) Check(ctx context.Context) Result {
	entries, err := os.ReadDir(c.ManifestDir)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("read manifest dir: %v", err)}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		// A zero-byte .db file is a strong corruption signal (bbolt never
		// produces one past its initial page allocation).
		if filepath.Ext(e.Name()) == ".db" && info.Size() == 0 {
			return Result{Healthy: false, Message: fmt.Sprintf("%s is zero bytes", e.Name())}
		}
	}
	return Result{Healthy: true, Message: "manifest layer files present"}
}
