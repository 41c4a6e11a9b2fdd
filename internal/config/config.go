// Package config loads vriftd's daemon configuration: environment
// variables with getEnv-style fallbacks for the values operators are most
// likely to override at the process boundary, plus an optional YAML file
// (gopkg.in/yaml.v3) for settings that are awkward to express as
// environment variables (CAS root, manifest dir, FD cache size, socket
// paths).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/velo-sh/rift/internal/logging"
)

// Config is vriftd's full runtime configuration.
type Config struct {
	// DataDir is the root of all daemon-owned state: CAS_ROOT, MANIFEST_DIR,
	// REGISTRY_DIR, and STAGING all default to subdirectories of it.
	DataDir string `yaml:"data_dir"`

	CASRoot     string `yaml:"cas_root"`
	ManifestDir string `yaml:"manifest_dir"`
	RegistryDir string `yaml:"registry_dir"`
	StagingDir  string `yaml:"staging_dir"`

	// SocketPath is the Shim<->Daemon hot-path Unix socket.
	SocketPath string `yaml:"socket_path"`
	// AdminSocketPath is the vriftctl/admin-API Unix socket.
	AdminSocketPath string `yaml:"admin_socket_path"`

	FDCacheSize int `yaml:"fd_cache_size"`

	// OrphanSweepGraceSeconds bounds how old an unclaimed staging file must
	// be before the Daemon's orphan sweep removes it on startup.
	OrphanSweepGraceSeconds int `yaml:"orphan_sweep_grace_seconds"`

	// ScrubIntervalSeconds paces the CAS background verifier, which
	// re-hashes a random sample of reachable blobs each cycle.
	ScrubIntervalSeconds int `yaml:"scrub_interval_seconds"`

	// GCIntervalSeconds paces the periodic blob garbage collector.
	GCIntervalSeconds int `yaml:"gc_interval_seconds"`

	LogLevel    logging.Level `yaml:"log_level"`
	JSONLogs    bool          `yaml:"json_logs"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// Default returns a Config with every field set to its production default,
// rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir:                 dataDir,
		CASRoot:                 dataDir + "/cas",
		ManifestDir:             dataDir + "/manifests",
		RegistryDir:             dataDir + "/registry",
		StagingDir:              dataDir + "/staging",
		SocketPath:              dataDir + "/vriftd.sock",
		AdminSocketPath:         dataDir + "/vriftd-admin.sock",
		FDCacheSize:             4096,
		OrphanSweepGraceSeconds: 3600,
		ScrubIntervalSeconds:    900,
		GCIntervalSeconds:       3600,
		LogLevel:                logging.InfoLevel,
		JSONLogs:                true,
		MetricsAddr:             ":9090",
	}
}

// Load reads an optional YAML file at path (if path is non-empty and
// exists) over Default(dataDir), then applies environment variable
// overrides: VRIFT_* wins over the file, the file wins over the default.
func Load(path string, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DataDir = getEnv("VRIFT_DATA_DIR", cfg.DataDir)
	// VR_THE_SOURCE is the historical name for the CAS root; VRIFT_CAS_ROOT
	// wins when both are set.
	cfg.CASRoot = getEnv("VR_THE_SOURCE", cfg.CASRoot)
	cfg.CASRoot = getEnv("VRIFT_CAS_ROOT", cfg.CASRoot)
	cfg.ManifestDir = getEnv("VRIFT_MANIFEST_DIR", cfg.ManifestDir)
	cfg.RegistryDir = getEnv("VRIFT_REGISTRY_DIR", cfg.RegistryDir)
	cfg.StagingDir = getEnv("VRIFT_STAGING_DIR", cfg.StagingDir)
	cfg.SocketPath = getEnv("VRIFT_SOCKET_PATH", cfg.SocketPath)
	cfg.AdminSocketPath = getEnv("VRIFT_ADMIN_SOCKET_PATH", cfg.AdminSocketPath)
	cfg.MetricsAddr = getEnv("VRIFT_METRICS_ADDR", cfg.MetricsAddr)
	cfg.FDCacheSize = getEnvInt("VRIFT_FD_CACHE_SIZE", cfg.FDCacheSize)
	cfg.OrphanSweepGraceSeconds = getEnvInt("VRIFT_ORPHAN_SWEEP_GRACE_SECONDS", cfg.OrphanSweepGraceSeconds)
	cfg.ScrubIntervalSeconds = getEnvInt("VRIFT_SCRUB_INTERVAL_SECONDS", cfg.ScrubIntervalSeconds)
	cfg.GCIntervalSeconds = getEnvInt("VRIFT_GC_INTERVAL_SECONDS", cfg.GCIntervalSeconds)
	if v := os.Getenv("VRIFT_DEBUG"); v == "1" || v == "true" {
		cfg.LogLevel = logging.DebugLevel
	} else if v := os.Getenv("VRIFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = logging.Level(v)
	}
	cfg.JSONLogs = getEnvBool("VRIFT_JSON_LOGS", cfg.JSONLogs)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
