// Command vriftctl is the administrative CLI for a running vriftd: it
// talks only to the read-mostly admin Unix socket (internal/adminapi),
// never the Shim-facing hot-path socket.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/velo-sh/rift/internal/adminapi"
)

var (
	Version = "dev"
)

var adminSocketPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vriftctl",
	Short:   "administer a running vriftd instance",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminSocketPath, "admin-socket", "/var/lib/vrift/vriftd-admin.sock", "path to vriftd's admin Unix socket")
	rootCmd.AddCommand(statusCmd, workspacesCmd, gcCmd, verifyCmd)
}

func dial(ctx context.Context) (*adminapi.Client, error) {
	return adminapi.DialClient(ctx, adminSocketPath)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the daemon's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		resp, err := client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("uptime:          %s\n", resp.Uptime)
		fmt.Printf("workspaces:      %d\n", resp.WorkspaceCount)
		fmt.Printf("staging files:   %d\n", resp.StagingFileCount)
		fmt.Printf("fd cache:        %d/%d\n", resp.FDCacheSize, resp.FDCacheCapacity)
		if !resp.LastGCTime.IsZero() {
			fmt.Printf("last gc:         %s (removed %d)\n", resp.LastGCTime.Format(time.RFC3339), resp.LastGCRemovedCount)
		} else {
			fmt.Printf("last gc:         never\n")
		}
		return nil
	},
}

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "list registered workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client, err := dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		resp, err := client.Workspaces(ctx)
		if err != nil {
			return err
		}
		for _, ws := range resp.Workspaces {
			fmt.Printf("%s\t%s\t%s\tgen=%d\tstatus=%s\n", ws.WorkspaceID, ws.ProjectRoot, ws.VFSPrefix, ws.Generation, ws.Status)
		}
		return nil
	},
}

var gcConfirm bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "reclaim CAS blobs unreachable from any workspace's manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !gcConfirm {
			return fmt.Errorf("vriftctl: gc is destructive; pass --confirm to run it")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		client, err := dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		resp, err := client.Gc(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("gc: removed %d blob(s) in %dms\n", resp.RemovedCount, resp.DurationMS)
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcConfirm, "confirm", false, "required to actually run gc")
}

var verifyWorkspaceID string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "recompute and check every reachable blob's content hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		client, err := dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		resp, err := client.Verify(ctx, verifyWorkspaceID)
		if err != nil {
			return err
		}
		fmt.Printf("verify: checked %d blob(s) in %dms\n", resp.BlobsChecked, resp.DurationMS)
		for _, ref := range resp.FailedBlobRefs {
			fmt.Printf("verify: FAILED %s\n", ref)
		}
		if len(resp.FailedBlobRefs) > 0 {
			return fmt.Errorf("vriftctl: %d integrity failure(s)", len(resp.FailedBlobRefs))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyWorkspaceID, "workspace", "", "limit verification to one workspace (default: all)")
}
