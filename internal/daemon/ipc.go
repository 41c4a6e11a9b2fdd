package daemon

import (
	"context"
	"fmt"

	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/vfserr"
	"github.com/velo-sh/rift/internal/vnode"
)

// NewIPCHandler returns the protocol.Handler the Daemon's Shim-facing Unix
// socket server dispatches every frame to. One handler per Daemon, stateless
// between calls beyond what Workspace/Manifest already hold.
func NewIPCHandler(d *Daemon) protocol.Handler {
	return func(ctx context.Context, peer protocol.PeerCredentials, req *protocol.Request) *protocol.Response {
		ws, err := d.Workspace(req.WorkspaceID)
		if err != nil {
			return protocol.ErrorResponse(req.RequestID, err)
		}

		var resp *protocol.Response
		switch req.Op {
		case protocol.OpLookup:
			resp, err = handleLookup(ws, req)
		case protocol.OpReaddir:
			resp, err = handleReaddir(ws, req)
		case protocol.OpOpenForWrite:
			resp, err = handleOpenForWrite(d, ws, req)
		case protocol.OpCommitWrite:
			resp, err = handleCommitWrite(d, ws, req)
		case protocol.OpMkdir:
			resp, err = handleMkdir(ws, req)
		case protocol.OpRemove:
			resp, err = handleRemove(ws, req)
		case protocol.OpRename:
			resp, err = handleRename(ws, req)
		case protocol.OpSymlink:
			resp, err = handleSymlink(ws, req)
		case protocol.OpReadlink:
			resp, err = handleReadlink(ws, req)
		case protocol.OpChmod:
			resp, err = handleChmod(ws, req)
		case protocol.OpUtime:
			resp, err = handleUtime(ws, req)
		default:
			err = vfserr.New(vfserr.Internal, "daemon.ipc", req.VPath, fmt.Errorf("unhandled opcode %s", req.Op))
		}
		if err != nil {
			return protocol.ErrorResponse(req.RequestID, err)
		}
		resp.RequestID = req.RequestID
		resp.Status = protocol.StatusOK
		return resp
	}
}

func entryKind(k vnode.Kind) uint8 { return uint8(k) }

func handleLookup(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	entry, found, err := ws.manifest.Lookup(req.VPath)
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.lookup", req.VPath, err)
	}
	if !found {
		return nil, vfserr.New(vfserr.NotFound, "ipc.lookup", req.VPath, fmt.Errorf("no such entry"))
	}
	return &protocol.Response{
		Mode:          entry.Mode,
		Size:          entry.Size,
		MtimeNS:       entry.MtimeNS,
		Hash:          entry.Hash,
		Kind:          entryKind(entry.Kind),
		SymlinkTarget: entry.SymlinkTarget,
	}, nil
}

func handleReaddir(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	iter, err := ws.manifest.ListDir(req.VPath)
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.readdir", req.VPath, err)
	}
	var entries []protocol.DirEntry
	iter(func(de manifest.DirEntry) bool {
		entries = append(entries, protocol.DirEntry{
			Name: de.Name,
			Mode: de.Entry.Mode,
			Kind: entryKind(de.Entry.Kind),
		})
		return true
	})
	return &protocol.Response{Entries: entries}, nil
}

func handleOpenForWrite(d *Daemon, ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	if entry, found, err := ws.manifest.Lookup(req.VPath); err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.openForWrite", req.VPath, err)
	} else if found && req.Excl {
		// O_CREAT|O_EXCL: an existing entry, of any kind, must fail the
		// open outright rather than silently succeeding into a CoW copy
		// of it.
		return nil, vfserr.New(vfserr.Exists, "ipc.openForWrite", req.VPath, fmt.Errorf("entry already exists"))
	} else if found && entry.Kind == vnode.RegularFile && entry.Mode&0o200 == 0 {
		return nil, vfserr.New(vfserr.PermissionDenied, "ipc.openForWrite", req.VPath, fmt.Errorf("mode %04o forbids write", entry.Mode))
	}

	handle, err := d.OpenForWrite(ws, req.VPath, req.Truncate)
	if err != nil {
		return nil, err
	}
	return &protocol.Response{
		StagingHandle: handle.HostPath,
		HostPath:      handle.HostPath,
		Size:          handle.OriginalSize,
	}, nil
}

func handleCommitWrite(d *Daemon, ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	handle := StagingHandle{
		WorkspaceID: ws.ID,
		VPath:       req.VPath,
		HostPath:    req.StagingHandle,
	}
	if err := d.CommitWrite(ws, handle, req.Hash, req.Size, req.MtimeNS, req.Mode); err != nil {
		return nil, err
	}
	return &protocol.Response{Hash: req.Hash, Size: req.Size, MtimeNS: req.MtimeNS}, nil
}

func handleMkdir(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	err := ws.applyCommand(Command{Op: CmdMkdir, VPath: req.VPath, Mode: req.Mode, MtimeNS: req.MtimeNS})
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.mkdir", req.VPath, err)
	}
	return &protocol.Response{}, nil
}

func handleRemove(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	if err := ws.applyCommand(Command{Op: CmdRemove, VPath: req.VPath}); err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.remove", req.VPath, err)
	}
	return &protocol.Response{}, nil
}

func handleRename(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	err := ws.applyCommand(Command{Op: CmdRename, VPath: req.VPath, NewVPath: req.NewVPath})
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.rename", req.VPath, err)
	}
	return &protocol.Response{}, nil
}

func handleSymlink(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	err := ws.applyCommand(Command{
		Op: CmdSymlink, VPath: req.VPath, Mode: req.Mode,
		MtimeNS: req.MtimeNS, SymlinkTarget: req.SymlinkTarget,
	})
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.symlink", req.VPath, err)
	}
	return &protocol.Response{}, nil
}

func handleReadlink(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	entry, found, err := ws.manifest.Lookup(req.VPath)
	if err != nil {
		return nil, vfserr.New(vfserr.Internal, "ipc.readlink", req.VPath, err)
	}
	if !found || entry.Kind != vnode.Symlink {
		return nil, vfserr.New(vfserr.NotFound, "ipc.readlink", req.VPath, fmt.Errorf("not a symlink"))
	}
	return &protocol.Response{SymlinkTarget: entry.SymlinkTarget}, nil
}

func handleChmod(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	if err := ws.applyCommand(Command{Op: CmdChmod, VPath: req.VPath, Mode: req.Mode}); err != nil {
		return nil, err
	}
	return &protocol.Response{}, nil
}

func handleUtime(ws *Workspace, req *protocol.Request) (*protocol.Response, error) {
	err := ws.applyCommand(Command{Op: CmdUtime, VPath: req.VPath, MtimeNS: req.MtimeNS})
	if err != nil {
		return nil, err
	}
	return &protocol.Response{}, nil
}
