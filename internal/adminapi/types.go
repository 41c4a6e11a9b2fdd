// Package adminapi implements the Daemon's admin surface: a small
// google.golang.org/grpc service, wired without protoc, that vriftctl and
// the readiness probe talk to over a second Unix socket separate from the
// Shim<->Daemon data-plane socket (internal/protocol).
//
// There is no .proto file and no generated *.pb.go: the grpc.ServiceDesc is
// constructed directly in service.go and messages are plain Go structs
// marshaled by a custom encoding/json-backed grpc codec (codec.go),
// a documented grpc-go extension point (grpc.ForceCodec,
// grpc.ForceServerCodec, encoding.RegisterCodec) for using grpc's framing/multiplexing/
// interceptor stack without adopting Protocol Buffers end to end.
package adminapi

import "time"

// StatusRequest carries no fields; it exists so the unary RPC shape is
// uniform across all four methods.
type StatusRequest struct{}

// StatusResponse is the Daemon's self-report: the fields an operator or
// vriftctl status actually needs.
type StatusResponse struct {
	WorkspaceCount     int       `json:"workspace_count"`
	StagingFileCount   int       `json:"staging_file_count"`
	FDCacheSize        int       `json:"fd_cache_size"`
	FDCacheCapacity    int       `json:"fd_cache_capacity"`
	LastGCTime         time.Time `json:"last_gc_time"`
	LastGCRemovedCount int       `json:"last_gc_removed_count"`
	Uptime             string    `json:"uptime"`
}

// WorkspacesRequest carries no fields.
type WorkspacesRequest struct{}

// WorkspaceSummary is one registry entry's operator-facing view.
type WorkspaceSummary struct {
	WorkspaceID  string `json:"workspace_id"`
	ProjectRoot  string `json:"project_root"`
	VFSPrefix    string `json:"vfs_prefix"`
	Status       string `json:"status"`
	Generation   uint64 `json:"generation"`
	LastVerified int64  `json:"last_verified"`
}

// WorkspacesResponse lists every registered workspace.
type WorkspacesResponse struct {
	Workspaces []WorkspaceSummary `json:"workspaces"`
}

// GcRequest requests an immediate out-of-band GC cycle. Confirm must be
// true or the Daemon rejects the call.
type GcRequest struct {
	Confirm bool `json:"confirm"`
}

// GcResponse reports one GC cycle's outcome.
type GcResponse struct {
	RemovedCount int   `json:"removed_count"`
	DurationMS   int64 `json:"duration_ms"`
}

// VerifyRequest asks the Daemon to re-hash every blob reachable from
// WorkspaceID (or every blob in the store, if WorkspaceID is empty).
type VerifyRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// VerifyResponse reports a scrub pass's outcome.
type VerifyResponse struct {
	BlobsChecked   int      `json:"blobs_checked"`
	FailedBlobRefs []string `json:"failed_blob_refs,omitempty"`
	DurationMS     int64    `json:"duration_ms"`
}
