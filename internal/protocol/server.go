package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/metrics"
)

// Handler processes one decoded Request and returns the Response to send
// back. Handlers never see framing or peer-credential details; those are
// Server's concern.
type Handler func(ctx context.Context, peer PeerCredentials, req *Request) *Response

// Server listens on a Unix domain socket and dispatches each connection's
// frames to Handler, verifying SO_PEERCRED once per connection rather than
// per request: authenticate the connection, not the message.
type Server struct {
	SocketPath string
	Handler    Handler

	// AllowUID, if non-nil, is consulted per connection; a peer UID for
	// which it returns false is rejected before any frame is read.
	AllowUID func(uid uint32) bool

	listener net.Listener
}

// Listen creates the Unix socket, removing any stale socket file left
// behind by a previous process (a cold daemon restart after a crash).
func (s *Server) Listen() error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("protocol: remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("protocol: listen on %q: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0o600); err != nil {
		lis.Close() //nolint:errcheck
		return fmt.Errorf("protocol: chmod socket: %w", err)
	}
	s.listener = lis
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled on its own goroutine, and within a
// connection, frames are processed sequentially (a single Shim thread's
// requests are never pipelined ahead of each other).
func (s *Server) Serve(ctx context.Context) error {
	log := logging.WithComponent("protocol")
	go func() {
		<-ctx.Done()
		s.listener.Close() //nolint:errcheck
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return fmt.Errorf("protocol: accept: %w", err)
			}
			continue
		}
		go s.handleConn(ctx, conn, log)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, log zerolog.Logger) {
	defer conn.Close() //nolint:errcheck

	peer, err := PeerCredentialsOf(conn)
	if err != nil {
		log.Warn().Err(err).Msg("protocol: reject connection without verifiable peer credentials")
		return
	}
	if s.AllowUID != nil && !s.AllowUID(peer.UID) {
		log.Warn().Uint32("uid", peer.UID).Msg("protocol: reject connection from disallowed uid")
		return
	}

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("protocol: connection closed")
			}
			return
		}

		req, err := DecodeRequest(payload)
		if err != nil {
			log.Warn().Err(err).Msg("protocol: malformed request frame")
			return
		}

		timer := metrics.NewTimer()
		resp := s.Handler(ctx, peer, req)
		if resp == nil {
			resp = &Response{RequestID: req.RequestID, Status: StatusInternal, Message: "handler returned no response"}
		}
		timer.ObserveDurationVec(metrics.IPCRequestDuration, req.Op.String())
		metrics.IPCRequestsTotal.WithLabelValues(req.Op.String(), statusLabel(resp.Status)).Inc()
		reqLog := logging.WithRequestID(req.RequestID)
		reqLog.Debug().Str("op", req.Op.String()).Str("status", statusLabel(resp.Status)).Msg("protocol: request handled")

		if err := WriteFrame(conn, EncodeResponse(resp)); err != nil {
			log.Debug().Err(err).Msg("protocol: write response failed")
			return
		}
	}
}

func statusLabel(s Status) string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

// Close closes the listener, which makes Serve return. Connections already
// accepted are not closed; each keeps being served until its peer
// disconnects.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// WithDeadline wraps conn's Read/Write with a fixed per-operation deadline,
// so a wedged peer cannot hang a call indefinitely. Client.Call does not
// use it; it sets its own deadline on the connection.
func WithDeadline(conn net.Conn, d time.Duration) {
	conn.SetDeadline(time.Now().Add(d)) //nolint:errcheck
}
