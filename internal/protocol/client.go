package protocol

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds how long a single Call waits for a response
// before treating the Daemon as unreachable: the Shim never blocks a
// syscall indefinitely on the Daemon.
const DefaultRequestTimeout = 5 * time.Second

// Client is a connection to the Daemon's Unix socket. One Client instance
// is safe for concurrent Call from multiple goroutines; requests on a
// single underlying connection are serialized internally since the wire
// protocol carries no multiplexing.
type Client struct {
	SocketPath string
	Timeout    time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to SocketPath, returning a ready-to-use Client.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %q: %w", socketPath, err)
	}
	return &Client{SocketPath: socketPath, Timeout: DefaultRequestTimeout, conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call sends req and waits for the matching Response. If req.RequestID is
// empty, a fresh one is generated. A transport failure reconnects once
// before giving up, so a Daemon restart between calls does not wedge every
// subsequent Shim syscall.
func (c *Client) Call(req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.callLocked(req)
	if err != nil {
		if rerr := c.reconnectLocked(); rerr != nil {
			return nil, fmt.Errorf("protocol: call failed and reconnect failed: %w (original: %v)", rerr, err)
		}
		resp, err = c.callLocked(req)
	}
	return resp, err
}

func (c *Client) callLocked(req *Request) (*Response, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("protocol: not connected")
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("protocol: set deadline: %w", err)
	}

	if err := WriteFrame(c.conn, EncodeRequest(req)); err != nil {
		return nil, err
	}
	payload, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}

func (c *Client) reconnectLocked() error {
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck
		c.conn = nil
	}
	conn, err := net.Dial("unix", c.SocketPath)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}
