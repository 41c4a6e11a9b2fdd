// Command vriftd is the Velo Rift daemon: the single process owning the
// CAS store, every registered workspace's Manifest, and the staging area,
// serving the Shim over a Unix socket and vriftctl over a second one.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velo-sh/rift/internal/adminapi"
	"github.com/velo-sh/rift/internal/config"
	"github.com/velo-sh/rift/internal/daemon"
	"github.com/velo-sh/rift/internal/diskhealth"
	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/metrics"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/vfserr"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	dataDir    string
	configPath string
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 socket bind
// failure, 3 manifest corruption, 10 for other internal errors.
const (
	exitConfig   = 1
	exitBind     = 2
	exitManifest = 3
	exitInternal = 10
)

// bindError marks a socket bind failure so main can map it to exitBind.
type bindError struct{ err error }

func (e *bindError) Error() string { return e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var be *bindError
	switch {
	case errors.As(err, &be):
		return exitBind
	case vfserr.Is(err, vfserr.ManifestCorrupt):
		return exitManifest
	case errors.As(err, new(*configError)):
		return exitConfig
	default:
		return exitInternal
	}
}

// configError marks a configuration-loading failure so main can map it to
// exitConfig.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:     "vriftd",
	Short:   "Velo Rift daemon: content-addressed storage with a userspace VFS shim",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("vriftd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/vrift", "root of daemon-owned state")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	rootCmd.AddCommand(serveCmd, gcCmd, scrubCmd, statusCmd)
}

func loadConfigured() (config.Config, *daemon.Daemon, error) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return cfg, nil, &configError{err: err}
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.JSONLogs})

	d, err := daemon.New(daemon.Config{
		DataDir:     cfg.DataDir,
		CASRoot:     cfg.CASRoot,
		ManifestDir: cfg.ManifestDir,
		RegistryDir: cfg.RegistryDir,
		StagingDir:  cfg.StagingDir,
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("vriftd: init daemon: %w", err)
	}
	return cfg, d, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, d, err := loadConfigured()
		if err != nil {
			return err
		}
		defer d.Close() //nolint:errcheck

		log := logging.WithComponent("vriftd")

		swept := d.SweepOrphanedStaging(time.Duration(cfg.OrphanSweepGraceSeconds) * time.Second)
		if swept > 0 {
			log.Info().Int("count", swept).Msg("serve: swept orphaned staging files on startup")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		selfUID := uint32(os.Getuid())
		ipcServer := &protocol.Server{
			SocketPath: cfg.SocketPath,
			Handler:    daemon.NewIPCHandler(d),
			// Refuse requests crossing UID boundaries: only processes owned
			// by the daemon's own user may speak the shim protocol.
			AllowUID: func(uid uint32) bool { return uid == selfUID },
		}
		if err := ipcServer.Listen(); err != nil {
			return &bindError{err: fmt.Errorf("vriftd: listen on shim socket: %w", err)}
		}
		errCh := make(chan error, 3)
		go func() { errCh <- ipcServer.Serve(ctx) }()

		adminSrv := adminapi.NewGRPCServer(adminapi.NewServer(d))
		adminLis, err := adminapi.Listen(cfg.AdminSocketPath)
		if err != nil {
			return &bindError{err: fmt.Errorf("vriftd: listen on admin socket: %w", err)}
		}
		go func() { errCh <- adminSrv.Serve(adminLis) }()

		health := diskhealth.NewRegistry(diskhealth.DefaultConfig(),
			&diskhealth.DiskSpaceChecker{Path: cfg.CASRoot, MinFreeBytes: 128 << 20},
			&diskhealth.CASWritableChecker{CASRoot: cfg.CASRoot},
			&diskhealth.ManifestOpenChecker{ManifestDir: cfg.ManifestDir},
		)
		health.RunAll(ctx)
		go func() {
			ticker := time.NewTicker(diskhealth.DefaultConfig().Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					health.RunAll(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
				if health.Ready() {
					w.WriteHeader(http.StatusOK)
					fmt.Fprintln(w, "ok") //nolint:errcheck
					return
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintln(w, "not ready") //nolint:errcheck
			})
			httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("metrics server: %w", err)
				}
			}()
			defer httpSrv.Close() //nolint:errcheck
		}

		d.RunPeriodicGC(ctx, time.Duration(cfg.GCIntervalSeconds)*time.Second)
		d.RunPeriodicScrub(ctx, time.Duration(cfg.ScrubIntervalSeconds)*time.Second, daemon.DefaultScrubSampleSize)
		d.RunPeriodicSweep(ctx, time.Duration(cfg.OrphanSweepGraceSeconds)*time.Second, time.Hour)

		log.Info().Str("socket", cfg.SocketPath).Str("admin_socket", cfg.AdminSocketPath).Msg("serve: vriftd ready")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info().Msg("serve: shutdown signal received")
		case err := <-errCh:
			log.Error().Err(err).Msg("serve: server error")
		}

		cancel()
		ipcServer.Close() //nolint:errcheck
		adminSrv.GracefulStop()
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "run one garbage collection cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, err := loadConfigured()
		if err != nil {
			return err
		}
		defer d.Close() //nolint:errcheck

		removed, err := d.GC()
		if err != nil {
			return fmt.Errorf("vriftd: gc: %w", err)
		}
		fmt.Printf("gc: removed %d unreachable blob(s)\n", removed)
		return nil
	},
}

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "verify every reachable blob's content hash against its stored bytes",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, err := loadConfigured()
		if err != nil {
			return err
		}
		defer d.Close() //nolint:errcheck

		// One-shot full verification: no sampling.
		checked, failed, err := d.Scrub(0)
		if err != nil {
			return fmt.Errorf("vriftd: scrub: %w", err)
		}
		fmt.Printf("scrub: checked %d blob(s), %d failure(s)\n", checked, failed)
		if failed > 0 {
			return fmt.Errorf("vriftd: scrub found %d integrity failure(s)", failed)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the daemon's in-process state without contacting a running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, err := loadConfigured()
		if err != nil {
			return err
		}
		defer d.Close() //nolint:errcheck

		size, capacity := d.FDCacheStats()
		fmt.Printf("workspaces: %d\n", d.WorkspaceCount())
		fmt.Printf("staging files: %d\n", d.StagingFileCount())
		fmt.Printf("fd cache: %d/%d\n", size, capacity)
		return nil
	},
}
