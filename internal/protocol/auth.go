package protocol

// PeerCredentials is the verified identity of a Unix socket's connecting
// process, obtained via SO_PEERCRED rather than any in-band credential the
// Shim could lie about: the kernel, not the client, asserts identity.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}
