package daemon

import (
	"fmt"

	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/vfserr"
	"github.com/velo-sh/rift/internal/vnode"
)

// CommandOp identifies a mutating Manifest operation. applyCommand is
// called directly by the IPC handler under the workspace's own mutex.
type CommandOp string

const (
	CmdInsert      CommandOp = "insert"
	CmdRemove      CommandOp = "remove"
	CmdRename      CommandOp = "rename"
	CmdMkdir       CommandOp = "mkdir"
	CmdSymlink     CommandOp = "symlink"
	CmdChmod       CommandOp = "chmod"
	CmdUtime       CommandOp = "utime"
	CmdCommitWrite CommandOp = "commit_write"
)

// Command is one appliable unit of Manifest mutation.
type Command struct {
	Op CommandOp

	VPath    string
	NewVPath string // for CmdRename

	Mode          uint32
	Hash          hashid.ContentHash
	Size          int64
	MtimeNS       int64
	SymlinkTarget string
}

// applyCommand is the Daemon's single dispatch point for Manifest
// mutation: one function, one switch, one appliable unit of mutation.
func (ws *Workspace) applyCommand(cmd Command) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	switch cmd.Op {
	case CmdInsert, CmdCommitWrite:
		entry := vnode.Entry{
			Mode:    cmd.Mode,
			Size:    cmd.Size,
			MtimeNS: cmd.MtimeNS,
			Hash:    cmd.Hash,
			Kind:    vnode.RegularFile,
		}
		return ws.manifest.Insert(cmd.VPath, entry)

	case CmdMkdir:
		entry := vnode.Entry{
			Mode:    cmd.Mode,
			MtimeNS: cmd.MtimeNS,
			Kind:    vnode.Directory,
		}
		return ws.manifest.Insert(cmd.VPath, entry)

	case CmdSymlink:
		entry := vnode.Entry{
			Mode:          cmd.Mode,
			MtimeNS:       cmd.MtimeNS,
			Kind:          vnode.Symlink,
			SymlinkTarget: cmd.SymlinkTarget,
		}
		return ws.manifest.Insert(cmd.VPath, entry)

	case CmdRemove:
		return ws.manifest.Remove(cmd.VPath)

	case CmdRename:
		return ws.manifest.Rename(cmd.VPath, cmd.NewVPath)

	case CmdChmod:
		entry, found, err := ws.manifest.Lookup(cmd.VPath)
		if err != nil {
			return err
		}
		if !found {
			return vfserr.New(vfserr.NotFound, "daemon.applyCommand(chmod)", cmd.VPath, fmt.Errorf("no such entry"))
		}
		entry.Mode = cmd.Mode
		return ws.manifest.Insert(cmd.VPath, entry)

	case CmdUtime:
		entry, found, err := ws.manifest.Lookup(cmd.VPath)
		if err != nil {
			return err
		}
		if !found {
			return vfserr.New(vfserr.NotFound, "daemon.applyCommand(utime)", cmd.VPath, fmt.Errorf("no such entry"))
		}
		entry.MtimeNS = cmd.MtimeNS
		return ws.manifest.Insert(cmd.VPath, entry)

	default:
		return fmt.Errorf("daemon: unknown command op %q", cmd.Op)
	}
}
