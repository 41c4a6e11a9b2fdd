package protocol

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velo-sh/rift/internal/hashid"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestRequestEncodeDecodeRoundTrip(t *testing.T) {
	req := &Request{
		Op:          OpCommitWrite,
		RequestID:   "req-1",
		WorkspaceID: "ws-1",
		VPath:       "/vrift/a.txt",
		Mode:        0o644,
		MtimeNS:     1234567890,
		Truncate:    true,
		Hash:        hashid.ContentHash("ab00000000000000000000000000000000000000000000000000000000cd"),
		Size:        42,
	}
	encoded := EncodeRequest(req)
	got, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestRequestDecodeIgnoresUnknownFields(t *testing.T) {
	req := &Request{Op: OpLookup, RequestID: "r", VPath: "/vrift/x"}
	encoded := EncodeRequest(req)

	// Append an unknown varint field (field 99) the decoder must skip.
	encoded = appendUint64(encoded, 99, 7)

	got, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestResponseEncodeDecodeRoundTripWithEntries(t *testing.T) {
	resp := &Response{
		RequestID: "req-2",
		Status:    StatusOK,
		Mode:      0o755,
		Size:      100,
		Entries: []DirEntry{
			{Name: "a.txt", Mode: 0o644, Kind: 0},
			{Name: "sub", Mode: 0o755, Kind: 1},
		},
	}
	encoded := EncodeResponse(resp)
	got, err := DecodeResponse(encoded)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := ErrorResponse("req-3", &testNotFoundErr{})
	require.Equal(t, StatusInternal, resp.Status)

	encoded := EncodeResponse(resp)
	got, err := DecodeResponse(encoded)
	require.NoError(t, err)
	require.Equal(t, resp.Status, got.Status)
	require.Equal(t, resp.Message, got.Message)

	reconstructed := got.Err()
	require.Error(t, reconstructed)
}

type testNotFoundErr struct{}

func (e *testNotFoundErr) Error() string { return "not found" }

func TestServerClientRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "vriftd.sock")

	srv := &Server{
		SocketPath: sockPath,
		Handler: func(ctx context.Context, peer PeerCredentials, req *Request) *Response {
			return &Response{RequestID: req.RequestID, Status: StatusOK, Message: "echo:" + req.VPath}
		},
	}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx) //nolint:errcheck
	defer srv.Close()

	// Give the accept loop a moment to start; it is already listening by
	// the time Listen returns, but Serve's Accept goroutine needs to spin
	// up.
	time.Sleep(10 * time.Millisecond)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(&Request{Op: OpLookup, VPath: "/vrift/file.txt"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Equal(t, "echo:/vrift/file.txt", resp.Message)
}

func TestServerRejectsUnauthorizedUID(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "vriftd.sock")

	called := false
	srv := &Server{
		SocketPath: sockPath,
		Handler: func(ctx context.Context, peer PeerCredentials, req *Request) *Response {
			called = true
			return &Response{RequestID: req.RequestID, Status: StatusOK}
		},
		AllowUID: func(uid uint32) bool { return false },
	}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx) //nolint:errcheck
	defer srv.Close()

	time.Sleep(10 * time.Millisecond)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()
	client.Timeout = 200 * time.Millisecond

	_, err = client.Call(&Request{Op: OpLookup, VPath: "/vrift/file.txt"})
	require.Error(t, err)
	require.False(t, called)
}
