package adminapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/velo-sh/rift/internal/daemon"
	"github.com/velo-sh/rift/internal/events"
)

// daemonServer implements Server over a *daemon.Daemon, the concrete
// adminapi.Server the Daemon process registers.
type daemonServer struct {
	d *daemon.Daemon
}

// NewServer wraps d as an adminapi.Server.
func NewServer(d *daemon.Daemon) Server {
	return &daemonServer{d: d}
}

func (s *daemonServer) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	size, capacity := s.d.FDCacheStats()
	lastGCAt, lastGCRemoved := s.d.LastGC()
	return &StatusResponse{
		WorkspaceCount:     s.d.WorkspaceCount(),
		StagingFileCount:   s.d.StagingFileCount(),
		FDCacheSize:        size,
		FDCacheCapacity:    capacity,
		LastGCTime:         lastGCAt,
		LastGCRemovedCount: lastGCRemoved,
		Uptime:             time.Since(s.d.StartedAt()).String(),
	}, nil
}

func (s *daemonServer) Workspaces(ctx context.Context, req *WorkspacesRequest) (*WorkspacesResponse, error) {
	records, err := s.d.Registry().List()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list workspaces: %v", err)
	}

	summaries := make([]WorkspaceSummary, 0, len(records))
	for _, rec := range records {
		var generation uint64
		if ws, err := s.d.Workspace(rec.WorkspaceID); err == nil {
			generation = ws.Manifest().Generation()
		}
		summaries = append(summaries, WorkspaceSummary{
			WorkspaceID:  rec.WorkspaceID,
			ProjectRoot:  rec.ProjectRoot,
			VFSPrefix:    rec.VFSPrefix,
			Status:       string(rec.Status),
			Generation:   generation,
			LastVerified: rec.LastVerified,
		})
	}
	return &WorkspacesResponse{Workspaces: summaries}, nil
}

func (s *daemonServer) Gc(ctx context.Context, req *GcRequest) (*GcResponse, error) {
	if !req.Confirm {
		return nil, status.Error(codes.FailedPrecondition, "Gc requires confirm=true")
	}
	start := time.Now()
	removed, err := s.d.GC()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "gc: %v", err)
	}
	return &GcResponse{
		RemovedCount: removed,
		DurationMS:   time.Since(start).Milliseconds(),
	}, nil
}

func (s *daemonServer) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	start := time.Now()

	var workspaceIDs []string
	if req.WorkspaceID != "" {
		workspaceIDs = []string{req.WorkspaceID}
	} else {
		records, err := s.d.Registry().List()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "list workspaces: %v", err)
		}
		for _, rec := range records {
			workspaceIDs = append(workspaceIDs, rec.WorkspaceID)
		}
	}

	checked := 0
	var failed []string
	seen := make(map[string]bool)
	for _, wsID := range workspaceIDs {
		ws, err := s.d.Workspace(wsID)
		if err != nil {
			continue
		}
		snap, err := ws.Manifest().Snapshot()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "snapshot %s: %v", wsID, err)
		}
		for _, entry := range snap.Entries {
			ref := entry.BlobRef()
			key := ref.String()
			if entry.Hash == "" || seen[key] {
				continue
			}
			seen[key] = true
			checked++
			if verr := s.d.CAS().Verify(ref); verr != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", key, verr))
				s.d.Events().Publish(&events.Event{Type: events.IntegrityFailure, WorkspaceID: wsID, Message: key})
			}
		}
	}

	return &VerifyResponse{
		BlobsChecked:   checked,
		FailedBlobRefs: failed,
		DurationMS:     time.Since(start).Milliseconds(),
	}, nil
}
