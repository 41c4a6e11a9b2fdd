package main

/*
#include "shim.h"
*/
import "C"

import (
	"os"
	"time"

	"github.com/velo-sh/rift/internal/hashid"
)

//export vriftCloseImpl
func vriftCloseImpl(fd C.int) C.int {
	e := ensureReady()
	if e == nil {
		return C.vrift_real_close(fd)
	}

	rec, last := e.FDs.Remove(int32(fd))
	if rec == nil {
		return C.vrift_real_close(fd)
	}

	ret := C.vrift_real_close(fd)

	if last && rec.WriteIntent && rec.Dirty {
		ref, err := hashStagingFile(rec.StagingPath)
		if err != nil {
			setErrno(errnoEIO)
			return -1
		}
		if err := e.CloseWritten(rec, ref, time.Now().UnixNano()); err != nil {
			setErrnoForError(err)
			return -1
		}
	}

	return ret
}

// hashStagingFile rehashes the staging file's final on-disk content,
// the local half of the commit handshake that runs on close of a dirty fd.
func hashStagingFile(path string) (hashid.BlobRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return hashid.BlobRef{}, err
	}
	defer f.Close()
	return hashid.HashReader(f)
}

func truncateHostFile(path string, length int64) error {
	return os.Truncate(path, length)
}
