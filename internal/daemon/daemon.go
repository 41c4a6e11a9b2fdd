// Package daemon implements the Velo Rift daemon: the single process that
// owns all mutable state (the Manifest, the staging area, and the
// workspace registry) and arbitrates every multi-process operation.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velo-sh/rift/internal/cas"
	"github.com/velo-sh/rift/internal/events"
	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/metrics"
	"github.com/velo-sh/rift/internal/registry"
	"github.com/velo-sh/rift/internal/vfserr"
)

// Workspace is one registered project: its Manifest, staging root, and
// configuration.
type Workspace struct {
	ID          string
	ProjectRoot string
	VFSPrefix   string

	mu       sync.Mutex // serializes applyCommand for this workspace
	manifest *manifest.Manifest
	stageDir string
}

// Config configures a Daemon instance.
type Config struct {
	DataDir     string
	CASRoot     string
	ManifestDir string
	RegistryDir string
	StagingDir  string
}

// Daemon is the single owner of mutable Velo Rift state.
type Daemon struct {
	cfg Config

	registry   *registry.Registry
	workspaces sync.Map // map[string]*Workspace
	cas        *cas.Store
	arbiter    *cowArbiter
	events     *events.Broker
	fdCache    *fdCache
	startedAt  time.Time

	statsMu      sync.Mutex
	lastGCAt     time.Time
	lastGCRemove int
}

// New constructs a Daemon over cfg, opening (or creating) the CAS store and
// workspace registry. It does not yet open any workspace's Manifest; that
// happens lazily in RegisterWorkspace / on-demand lookup.
func New(cfg Config) (*Daemon, error) {
	for _, dir := range []string{cfg.DataDir, cfg.StagingDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("daemon: create dir %q: %w", dir, err)
		}
	}

	store, err := cas.New(cfg.CASRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: open cas: %w", err)
	}
	reg, err := registry.Open(cfg.RegistryDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: open registry: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	d := &Daemon{
		cfg:       cfg,
		registry:  reg,
		cas:       store,
		arbiter:   newCOWArbiter(),
		events:    broker,
		fdCache:   newFDCache(4096),
		startedAt: time.Now(),
	}
	return d, nil
}

// Close shuts down every open workspace Manifest and the event broker.
func (d *Daemon) Close() error {
	var firstErr error
	d.workspaces.Range(func(_, v any) bool {
		ws := v.(*Workspace)
		if err := ws.manifest.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	d.events.Stop()
	d.fdCache.Close()
	return firstErr
}

// CAS exposes the underlying content-addressable store (used by
// internal/protocol's server handlers for read fast-paths).
func (d *Daemon) CAS() *cas.Store { return d.cas }

// Events exposes the event broker so adminapi/protocol servers can
// subscribe.
func (d *Daemon) Events() *events.Broker { return d.events }

// Registry exposes the workspace registry for internal/adminapi's
// Workspaces RPC.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Manifest exposes ws's manifest for internal/adminapi's Workspaces/Verify
// RPCs.
func (ws *Workspace) Manifest() *manifest.Manifest { return ws.manifest }

// StartedAt returns the daemon process's start time, for uptime reporting.
func (d *Daemon) StartedAt() time.Time { return d.startedAt }

// FDCacheStats returns the FD cache's current occupancy and capacity.
func (d *Daemon) FDCacheStats() (size, capacity int) {
	d.fdCache.mu.Lock()
	defer d.fdCache.mu.Unlock()
	return d.fdCache.order.Len(), d.fdCache.capacity
}

// LastGC returns the time and removed-blob count of the most recently
// completed GC cycle, the zero time if none has run yet.
func (d *Daemon) LastGC() (at time.Time, removed int) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.lastGCAt, d.lastGCRemove
}

// StagingFileCount counts staging files across every workspace directory
// under StagingDir.
func (d *Daemon) StagingFileCount() int {
	entries, err := os.ReadDir(d.cfg.StagingDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, wd := range entries {
		if !wd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(d.cfg.StagingDir, wd.Name()))
		if err != nil {
			continue
		}
		count += len(files)
	}
	return count
}

// WorkspaceCount returns the number of currently loaded workspaces.
func (d *Daemon) WorkspaceCount() int {
	count := 0
	d.workspaces.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// RegisterWorkspace creates (or reopens) a workspace's manifest delta layer
// and records it in the registry.
func (d *Daemon) RegisterWorkspace(ctx context.Context, projectRoot, vfsPrefix string) (*Workspace, error) {
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve project root: %w", err)
	}

	workspaceID := uuid.NewString()
	manifestPath := filepath.Join(d.cfg.ManifestDir, workspaceID+".db")
	stageDir := filepath.Join(d.cfg.StagingDir, workspaceID)
	if err := os.MkdirAll(stageDir, 0o750); err != nil {
		return nil, fmt.Errorf("daemon: create staging dir: %w", err)
	}

	m, err := manifest.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open workspace manifest: %w", err)
	}

	ws := &Workspace{
		ID:          workspaceID,
		ProjectRoot: absRoot,
		VFSPrefix:   vfsPrefix,
		manifest:    m,
		stageDir:    stageDir,
	}
	d.workspaces.Store(workspaceID, ws)

	now := time.Now().Unix()
	rec := registry.WorkspaceRecord{
		WorkspaceID:     workspaceID,
		ProjectRoot:     absRoot,
		ProjectRootHash: registry.ProjectRootHash(absRoot),
		VFSPrefix:       vfsPrefix,
		ManifestPath:    manifestPath,
		RegisteredAt:    now,
		LastVerified:    now,
		Status:          registry.StatusActive,
	}
	if err := d.registry.Register(rec); err != nil {
		return nil, fmt.Errorf("daemon: persist registration: %w", err)
	}

	metrics.WorkspacesRegistered.Inc()
	d.events.Publish(&events.Event{Type: events.WorkspaceRegistered, WorkspaceID: workspaceID})
	regLog := logging.WithComponent("daemon")
	regLog.Info().Str("workspace_id", workspaceID).Str("project_root", absRoot).Msg("workspace registered")
	return ws, nil
}

// UnregisterWorkspace closes and removes a workspace's in-memory state and
// registry record. The manifest file and staging directory are left on
// disk for operator inspection/GC rather than deleted here.
func (d *Daemon) UnregisterWorkspace(workspaceID string) error {
	v, ok := d.workspaces.LoadAndDelete(workspaceID)
	if !ok {
		return vfserr.New(vfserr.NotFound, "daemon.UnregisterWorkspace", workspaceID, fmt.Errorf("not registered"))
	}
	ws := v.(*Workspace)
	if err := ws.manifest.Close(); err != nil {
		unregLog := logging.WithComponent("daemon")
		unregLog.Warn().Err(err).Str("workspace_id", workspaceID).Msg("error closing manifest on unregister")
	}
	if err := d.registry.Unregister(workspaceID); err != nil {
		return fmt.Errorf("daemon: unregister: %w", err)
	}
	metrics.WorkspacesRegistered.Dec()
	d.events.Publish(&events.Event{Type: events.WorkspaceUnregistered, WorkspaceID: workspaceID})
	return nil
}

// Workspace returns the in-memory Workspace for workspaceID, loading it
// from the registry and opening its manifest if this is the first lookup
// since process start.
func (d *Daemon) Workspace(workspaceID string) (*Workspace, error) {
	if v, ok := d.workspaces.Load(workspaceID); ok {
		return v.(*Workspace), nil
	}

	rec, ok, err := d.registry.Get(workspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vfserr.New(vfserr.NotFound, "daemon.Workspace", workspaceID, fmt.Errorf("not registered"))
	}

	m, err := manifest.Open(rec.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: reopen workspace manifest: %w", err)
	}
	ws := &Workspace{
		ID:          rec.WorkspaceID,
		ProjectRoot: rec.ProjectRoot,
		VFSPrefix:   rec.VFSPrefix,
		manifest:    m,
		stageDir:    filepath.Join(d.cfg.StagingDir, rec.WorkspaceID),
	}
	actual, loaded := d.workspaces.LoadOrStore(workspaceID, ws)
	if loaded {
		m.Close() //nolint:errcheck
		return actual.(*Workspace), nil
	}
	return ws, nil
}
