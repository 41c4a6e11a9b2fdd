package protocol

import (
	"errors"

	"github.com/velo-sh/rift/internal/vfserr"
)

// statusForKind maps vfserr.Kind to the wire Status: errors never cross
// the IPC boundary as Go error values, only as this closed Status enum
// plus a human-readable Message.
func statusForKind(kind vfserr.Kind) Status {
	switch kind {
	case vfserr.NotFound:
		return StatusNotFound
	case vfserr.PermissionDenied:
		return StatusPermissionDenied
	case vfserr.ReadOnly:
		return StatusReadOnly
	case vfserr.CrossDevice:
		return StatusCrossDevice
	case vfserr.Exists:
		return StatusExists
	case vfserr.NotADirectory:
		return StatusNotADirectory
	case vfserr.IsADirectory:
		return StatusIsADirectory
	case vfserr.IntegrityError:
		return StatusIntegrityError
	case vfserr.ManifestCorrupt:
		return StatusManifestCorrupt
	default:
		return StatusInternal
	}
}

// ErrorResponse builds a Response carrying err's taxonomy Kind (or
// StatusInternal if err is not a *vfserr.Error) and its message, for a
// server handler's error path.
func ErrorResponse(requestID string, err error) *Response {
	status := StatusInternal
	var verr *vfserr.Error
	if errors.As(err, &verr) {
		status = statusForKind(verr.Kind)
	}
	return &Response{
		RequestID: requestID,
		Status:    status,
		Message:   err.Error(),
	}
}

// Err reconstructs a Go error from a non-OK Response, the client-side
// inverse of ErrorResponse.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &remoteError{status: r.Status, message: r.Message}
}

type remoteError struct {
	status  Status
	message string
}

func (e *remoteError) Error() string { return e.message }

// Status returns the wire status carried by a remote error, letting
// callers branch on it without a type switch on vfserr.Kind (the Daemon
// process, not the Shim, owns the vfserr taxonomy).
func (e *remoteError) Status() Status { return e.status }
