package adminapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin wrapper over a *grpc.ClientConn dialed against an admin
// Unix socket with the json codec forced, for vriftctl's subcommands.
type Client struct {
	conn *grpc.ClientConn
}

// DialClient connects to the admin socket at socketPath.
func DialClient(ctx context.Context, socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("adminapi: dial %q: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Status", &StatusRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Workspaces(ctx context.Context) (*WorkspacesResponse, error) {
	out := new(WorkspacesResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Workspaces", &WorkspacesRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Gc(ctx context.Context, confirm bool) (*GcResponse, error) {
	out := new(GcResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Gc", &GcRequest{Confirm: confirm}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Verify(ctx context.Context, workspaceID string) (*VerifyResponse, error) {
	out := new(VerifyResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Verify", &VerifyRequest{WorkspaceID: workspaceID}, out); err != nil {
		return nil, err
	}
	return out, nil
}
