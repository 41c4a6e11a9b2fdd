package main

/*
#include "shim.h"
*/
import "C"

import (
	"errors"

	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/vfserr"
)

const (
	errnoENOENT  = 2
	errnoEIO     = 5
	errnoEACCES  = 13
	errnoEEXIST  = 17
	errnoEXDEV   = 18
	errnoENOTDIR = 20
	errnoEISDIR  = 21
	errnoEROFS   = 30
	errnoELOOP   = 40
)

func setErrno(e int) {
	C.vrift_set_errno(C.int(e))
}

// statusKind carries just enough of a remote error's taxonomy to pick an
// errno, whether it arrived as a local *vfserr.Error (a read-fast-path
// failure that never left this process) or as a Daemon-returned
// *protocol.Response wrapped by Response.Err (a value this package cannot
// name the concrete type of, since protocol keeps it unexported).
type statusKind interface {
	Status() protocol.Status
}

// setErrnoForError maps err's taxonomy to the errno a real filesystem
// would have set; errno returns mirror standard filesystem semantics.
func setErrnoForError(err error) {
	var verr *vfserr.Error
	if errors.As(err, &verr) {
		setErrnoForKind(verr.Kind)
		return
	}
	var sk statusKind
	if errors.As(err, &sk) {
		setErrnoForStatus(sk.Status())
		return
	}
	setErrno(errnoEIO)
}

func setErrnoForKind(kind vfserr.Kind) {
	switch kind {
	case vfserr.NotFound:
		setErrno(errnoENOENT)
	case vfserr.PermissionDenied:
		setErrno(errnoEACCES)
	case vfserr.ReadOnly:
		setErrno(errnoEROFS)
	case vfserr.CrossDevice:
		setErrno(errnoEXDEV)
	case vfserr.Exists:
		setErrno(errnoEEXIST)
	case vfserr.NotADirectory:
		setErrno(errnoENOTDIR)
	case vfserr.IsADirectory:
		setErrno(errnoEISDIR)
	default:
		setErrno(errnoEIO)
	}
}

func setErrnoForStatus(status protocol.Status) {
	switch status {
	case protocol.StatusNotFound:
		setErrno(errnoENOENT)
	case protocol.StatusPermissionDenied:
		setErrno(errnoEACCES)
	case protocol.StatusReadOnly:
		setErrno(errnoEROFS)
	case protocol.StatusCrossDevice:
		setErrno(errnoEXDEV)
	case protocol.StatusExists:
		setErrno(errnoEEXIST)
	case protocol.StatusNotADirectory:
		setErrno(errnoENOTDIR)
	case protocol.StatusIsADirectory:
		setErrno(errnoEISDIR)
	default:
		setErrno(errnoEIO)
	}
}
