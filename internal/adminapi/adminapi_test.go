package adminapi

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeServer struct {
	statusCalls int
	gcConfirm   bool
}

func (f *fakeServer) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	f.statusCalls++
	return &StatusResponse{WorkspaceCount: 3, Uptime: "1m"}, nil
}

func (f *fakeServer) Workspaces(ctx context.Context, req *WorkspacesRequest) (*WorkspacesResponse, error) {
	return &WorkspacesResponse{Workspaces: []WorkspaceSummary{{WorkspaceID: "ws-1"}}}, nil
}

func (f *fakeServer) Gc(ctx context.Context, req *GcRequest) (*GcResponse, error) {
	f.gcConfirm = req.Confirm
	return &GcResponse{RemovedCount: 5}, nil
}

func (f *fakeServer) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	return &VerifyResponse{BlobsChecked: 10}, nil
}

func startTestServer(t *testing.T, impl Server) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "admin.sock")
	lis, err := Listen(socketPath)
	require.NoError(t, err)

	srv := NewGRPCServer(impl)
	go srv.Serve(lis) //nolint:errcheck

	return socketPath, srv.Stop
}

func TestStatusRoundTrip(t *testing.T) {
	fake := &fakeServer{}
	sockPath, stop := startTestServer(t, fake)
	defer stop()

	client, err := DialClient(context.Background(), sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, resp.WorkspaceCount)
	require.Equal(t, 1, fake.statusCalls)
}

func TestWorkspacesRoundTrip(t *testing.T) {
	fake := &fakeServer{}
	sockPath, stop := startTestServer(t, fake)
	defer stop()

	client, err := DialClient(context.Background(), sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Workspaces(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Workspaces, 1)
	require.Equal(t, "ws-1", resp.Workspaces[0].WorkspaceID)
}

func TestGcRejectedWithoutConfirm(t *testing.T) {
	fake := &fakeServer{}
	sockPath, stop := startTestServer(t, fake)
	defer stop()

	client, err := DialClient(context.Background(), sockPath)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Gc(context.Background(), false)
	require.Error(t, err)
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	require.False(t, fake.gcConfirm)
}

func TestGcAllowedWithConfirm(t *testing.T) {
	fake := &fakeServer{}
	sockPath, stop := startTestServer(t, fake)
	defer stop()

	client, err := DialClient(context.Background(), sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Gc(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 5, resp.RemovedCount)
	require.True(t, fake.gcConfirm)
}

func TestVerifyRoundTrip(t *testing.T) {
	fake := &fakeServer{}
	sockPath, stop := startTestServer(t, fake)
	defer stop()

	client, err := DialClient(context.Background(), sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Verify(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 10, resp.BlobsChecked)
}
