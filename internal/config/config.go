package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/standardbeagle/rindex/internal/types"
)

// Config carries every tunable of the engine. Defaults follow the constants
// in internal/types; a .rindex.kdl file and CLI flags may override them.
type Config struct {
	Version     int
	Project     Project
	Index       Index
	Performance Performance
	Include     []string
	Exclude     []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	JobTimeout      time.Duration // soft per-job parse timeout
	CrashRetries    int           // retries before a file is marked repeatedly failing
	SyncDebounce    time.Duration // quiet period after the last finished job
	SaveThreshold   int           // synced files that trigger a save
	SaveInterval    time.Duration // force a save after this much time
	ShutdownGrace   time.Duration // wait for in-flight jobs on close
	WatchMode       bool          // watch the file system for changes
	WatchDebounceMs int           // debounce for watcher event batches
}

type Performance struct {
	Workers int // parallel parse jobs; 0 = auto-detect (NumCPU)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Index: Index{
			JobTimeout:      types.DefaultJobTimeout,
			CrashRetries:    types.DefaultCrashRetries,
			SyncDebounce:    types.DefaultSyncDebounce,
			SaveThreshold:   types.DefaultSaveThreshold,
			SaveInterval:    types.DefaultSaveInterval,
			ShutdownGrace:   types.DefaultShutdownGrace,
			WatchMode:       true,
			WatchDebounceMs: 500,
		},
		Performance: Performance{Workers: 0},
		Include:     []string{"**/*.c", "**/*.cc", "**/*.cpp", "**/*.cxx", "**/*.h", "**/*.hh", "**/*.hpp"},
		Exclude:     []string{},
	}
}

// WorkerCount resolves the effective parallelism.
func (c *Config) WorkerCount() int {
	if c.Performance.Workers > 0 {
		return c.Performance.Workers
	}
	return runtime.NumCPU()
}

// Load reads configuration for the given project root, falling back to the
// defaults when no .rindex.kdl exists.
func Load(projectRoot string) (*Config, error) {
	cfg, err := LoadKDL(projectRoot)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if cfg.Project.Root == "" {
		absRoot, err := filepath.Abs(projectRoot)
		if err != nil {
			absRoot = projectRoot
		}
		cfg.Project.Root = absRoot
	}
	return cfg, nil
}

// Environment captures the process environment the engine consumes, passed
// explicitly at construction instead of read from hidden globals.
type Environment struct {
	// DBType selects a storage backend variant via RTAGS_DB_TYPE. "filedb"
	// is the single-blob default; "leveldb" is accepted as a legacy alias.
	DBType string

	// WorkingDir anchors database discovery.
	WorkingDir string
}

// EnvironmentFromOS snapshots the process environment.
func EnvironmentFromOS() Environment {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	dbType := os.Getenv("RTAGS_DB_TYPE")
	if dbType == "" {
		dbType = "filedb"
	}
	return Environment{DBType: dbType, WorkingDir: wd}
}

// Validate rejects backend names the engine doesn't know.
func (e Environment) Validate() error {
	switch e.DBType {
	case "filedb", "leveldb":
		return nil
	default:
		return fmt.Errorf("unknown RTAGS_DB_TYPE %q (want filedb or leveldb)", e.DBType)
	}
}
