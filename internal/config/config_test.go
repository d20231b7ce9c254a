package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Minute, cfg.Index.JobTimeout)
	assert.Equal(t, 3, cfg.Index.CrashRetries)
	assert.Equal(t, 2000*time.Millisecond, cfg.Index.SyncDebounce)
	assert.Equal(t, 32, cfg.Index.SaveThreshold)
	assert.Positive(t, cfg.WorkerCount())
}

func TestLoadWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Index.CrashRetries)
	assert.NotEmpty(t, cfg.Project.Root)
}

func TestLoadKDL(t *testing.T) {
	dir := t.TempDir()
	content := `
project {
    name "demo"
    root "."
}
index {
    job_timeout_sec 60
    crash_retries 5
    sync_debounce_ms 100
    save_threshold 8
    watch_mode false
}
performance {
    workers 3
}
exclude "build/**" "third_party/**"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, filepath.Clean(dir), cfg.Project.Root)
	assert.Equal(t, time.Minute, cfg.Index.JobTimeout)
	assert.Equal(t, 5, cfg.Index.CrashRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Index.SyncDebounce)
	assert.Equal(t, 8, cfg.Index.SaveThreshold)
	assert.False(t, cfg.Index.WatchMode)
	assert.Equal(t, 3, cfg.Performance.Workers)
	assert.Equal(t, 3, cfg.WorkerCount())
	assert.Contains(t, cfg.Exclude, "build/**")
	assert.Contains(t, cfg.Exclude, "third_party/**")
}

func TestLoadKDLMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("index {"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvironmentValidate(t *testing.T) {
	assert.NoError(t, Environment{DBType: "filedb"}.Validate())
	assert.NoError(t, Environment{DBType: "leveldb"}.Validate())
	assert.Error(t, Environment{DBType: "mongodb"}.Validate())
}

func TestEnvironmentFromOS(t *testing.T) {
	t.Setenv("RTAGS_DB_TYPE", "")
	env := EnvironmentFromOS()
	assert.Equal(t, "filedb", env.DBType)
	assert.NotEmpty(t, env.WorkingDir)

	t.Setenv("RTAGS_DB_TYPE", "leveldb")
	env = EnvironmentFromOS()
	assert.Equal(t, "leveldb", env.DBType)
}

func TestProjectMetaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.meta")
	meta := &ProjectMeta{Root: "/src/demo", CompilationDatabase: "/src/demo/compile_commands.json"}

	require.NoError(t, SaveMeta(path, meta))
	loaded, err := LoadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, meta, loaded)
}
