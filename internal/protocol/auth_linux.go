//go:build linux

package protocol

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentialsOf retrieves the SO_PEERCRED credentials of conn's remote
// end. conn must wrap a *net.UnixConn over AF_UNIX/SOCK_STREAM; any other
// connection type returns an error.
func PeerCredentialsOf(conn net.Conn) (PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, fmt.Errorf("protocol: connection is not a Unix socket (%T)", conn)
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("protocol: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCredentials{}, fmt.Errorf("protocol: control: %w", ctrlErr)
	}
	if sockErr != nil {
		return PeerCredentials{}, fmt.Errorf("protocol: getsockopt SO_PEERCRED: %w", sockErr)
	}

	return PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
