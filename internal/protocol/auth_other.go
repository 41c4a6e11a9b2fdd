//go:build !linux

package protocol

import (
	"fmt"
	"net"
)

// PeerCredentialsOf is unsupported outside Linux: SO_PEERCRED is a
// Linux-specific socket option (BSD/Darwin expose the equivalent
// information via LOCAL_PEERCRED, which this build does not implement).
func PeerCredentialsOf(conn net.Conn) (PeerCredentials, error) {
	return PeerCredentials{}, fmt.Errorf("protocol: SO_PEERCRED peer credentials unsupported on this platform")
}
