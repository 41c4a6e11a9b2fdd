// Package registry implements the workspace registry: a single JSON
// document, `REGISTRY_DIR/manifests.json`, mapping workspace IDs to their
// project root, virtual prefix, and manifest location. Read/write is
// whole-document atomic write-rename.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/velo-sh/rift/internal/vfserr"
)

// Status is a WorkspaceRecord's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusStale    Status = "stale"
	StatusArchived Status = "archived"
)

// WorkspaceRecord is one entry of the registry document.
type WorkspaceRecord struct {
	WorkspaceID     string `json:"workspace_id"`
	ProjectRoot     string `json:"project_root"`
	ProjectRootHash string `json:"project_root_hash"`
	VFSPrefix       string `json:"vfs_prefix"`
	ManifestPath    string `json:"manifest_path"`
	RegisteredAt    int64  `json:"registered_at"`
	LastVerified    int64  `json:"last_verified"`
	Status          Status `json:"status"`
}

// document is the on-disk shape of manifests.json.
type document struct {
	Workspaces map[string]WorkspaceRecord `json:"workspaces"`
}

// Registry is the daemon's single source of truth for which workspaces are
// registered, backed by REGISTRY_DIR/manifests.json.
type Registry struct {
	mu   sync.Mutex
	dir  string
	path string
}

// Open loads (or initializes) the registry document at dir/manifests.json.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("registry: create dir %q: %w", dir, err)
	}
	r := &Registry{dir: dir, path: filepath.Join(dir, "manifests.json")}
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		if err := r.writeDocument(document{Workspaces: map[string]WorkspaceRecord{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("registry: stat %q: %w", r.path, err)
	}
	return r, nil
}

// ProjectRootHash returns the hex SHA-256 of the path, used to detect a
// moved/renamed checkout (the registry's source_path_hash field). SHA-256 is
// sufficient here (this hashes a short path string, not CAS content, so
// it's deliberately not routed through internal/hashid's BLAKE3 pipeline).
func ProjectRootHash(absProjectRoot string) string {
	sum := sha256.Sum256([]byte(absProjectRoot))
	return hex.EncodeToString(sum[:])
}

func (r *Registry) readDocument() (document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return document{}, fmt.Errorf("registry: read %q: %w", r.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, vfserr.New(vfserr.ManifestCorrupt, "registry.readDocument", r.path, err)
	}
	if doc.Workspaces == nil {
		doc.Workspaces = map[string]WorkspaceRecord{}
	}
	return doc, nil
}

// writeDocument atomically replaces the registry file: write to a temp
// file in the same directory, fsync, then rename over the target.
func (r *Registry) writeDocument(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".manifests-"+uuid.NewString()+"-*")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("registry: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("registry: rename %q: %w", r.path, err)
	}
	return nil
}

// Register inserts or replaces rec, keyed by rec.WorkspaceID.
func (r *Registry) Register(rec WorkspaceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}
	doc.Workspaces[rec.WorkspaceID] = rec
	return r.writeDocument(doc)
}

// Unregister removes a workspace from the registry.
func (r *Registry) Unregister(workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}
	if _, ok := doc.Workspaces[workspaceID]; !ok {
		return vfserr.New(vfserr.NotFound, "registry.Unregister", workspaceID, fmt.Errorf("no such workspace"))
	}
	delete(doc.Workspaces, workspaceID)
	return r.writeDocument(doc)
}

// Get returns the record for workspaceID.
func (r *Registry) Get(workspaceID string) (WorkspaceRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return WorkspaceRecord{}, false, err
	}
	rec, ok := doc.Workspaces[workspaceID]
	return rec, ok, nil
}

// List returns every registered workspace record.
func (r *Registry) List() ([]WorkspaceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}
	out := make([]WorkspaceRecord, 0, len(doc.Workspaces))
	for _, rec := range doc.Workspaces {
		out = append(out, rec)
	}
	return out, nil
}

// TouchVerified updates LastVerified for workspaceID. No Daemon code calls
// it; LastVerified is otherwise set once, at registration.
func (r *Registry) TouchVerified(workspaceID string, at int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}
	rec, ok := doc.Workspaces[workspaceID]
	if !ok {
		return vfserr.New(vfserr.NotFound, "registry.TouchVerified", workspaceID, fmt.Errorf("no such workspace"))
	}
	rec.LastVerified = at
	doc.Workspaces[workspaceID] = rec
	return r.writeDocument(doc)
}

// SetStatus updates a workspace's lifecycle status, e.g. marking it Stale
// when ProjectRootHash no longer matches the live project root (a moved or
// renamed checkout).
func (r *Registry) SetStatus(workspaceID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}
	rec, ok := doc.Workspaces[workspaceID]
	if !ok {
		return vfserr.New(vfserr.NotFound, "registry.SetStatus", workspaceID, fmt.Errorf("no such workspace"))
	}
	rec.Status = status
	doc.Workspaces[workspaceID] = rec
	return r.writeDocument(doc)
}
