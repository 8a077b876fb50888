package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deckdock/romcache/catalog"
	"github.com/deckdock/romcache/hook"
	"github.com/deckdock/romcache/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("test Defaults", testDefaults)
	t.Run("test NewConfigFromYAML", testNewConfigFromYAML)
	t.Run("test LoadConfig", testLoadConfig)
	t.Run("test Validate", testValidate)
	t.Run("test ImportEnvFile", testImportEnvFile)
	t.Run("test ReadEnvFile", testReadEnvFile)
	t.Run("test NewRuntime", testNewRuntime)
}

func testDefaults(t *testing.T) {
	config := NewDefaultConfig()
	assert.Equal(t, "/tmp/nas-roms", config.MountRoot)
	assert.Equal(t, BackendMount, config.Backend.Type)
	assert.True(t, config.Hooks.Detach)

	margin, err := config.GetSafetyMargin()
	assert.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), margin)

	assert.NoError(t, config.Validate())
}

func testNewConfigFromYAML(t *testing.T) {
	yamlBytes := []byte(`
library_root: /home/deck/Emulation/roms
mount_root: /tmp/nas-roms
lock_file: /run/user/1000/romcache.lock
safety_margin: 1 GiB
aliases:
  - alias: n3ds
    source: 3ds
backend:
  type: ssh
  ssh:
    host: nas.local
    user: root
    identity_file: /home/deck/.ssh/id_ed25519
    known_hosts_file: /home/deck/.ssh/known_hosts
    remote_root: /volume1/games/roms
hooks:
  detach: false
  actions:
    - name: reindex
      command: ["python3", "/home/deck/deckdock/add-roms-to-steam.py"]
      timeout: 2m
progress:
  mode: dialog
poll_interval: 250ms
`)

	config, err := NewConfigFromYAML(yamlBytes)
	require.NoError(t, err)

	assert.Equal(t, "/home/deck/Emulation/roms", config.LibraryRoot)
	assert.Equal(t, []catalog.AliasMapping{{Alias: "n3ds", Source: "3ds"}}, config.Aliases)
	assert.Equal(t, BackendSSH, config.Backend.Type)
	require.NotNil(t, config.Backend.SSH)
	assert.Equal(t, "nas.local", config.Backend.SSH.Host)
	assert.False(t, config.Hooks.Detach)
	require.Len(t, config.Hooks.Actions, 1)
	assert.Equal(t, 2*time.Minute, config.Hooks.Actions[0].Timeout)
	assert.Equal(t, 250*time.Millisecond, config.PollInterval)
	assert.Equal(t, ProgressDialog, config.Progress.Mode)
	assert.NotEmpty(t, config.Progress.DialogCommand)

	margin, err := config.GetSafetyMargin()
	assert.NoError(t, err)
	assert.Equal(t, int64(1<<30), margin)

	assert.NoError(t, config.Validate())
}

func testLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("library_root: /srv/roms\nlog_level: debug\n"), 0644))

	t.Setenv(MountRootEnvKey, "/mnt/nas")
	t.Setenv(LogLevelEnvKey, "warn")

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/srv/roms", config.LibraryRoot)
	assert.Equal(t, "/mnt/nas", config.MountRoot)
	assert.Equal(t, "warn", config.LogLevel)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv(ConfigPathEnvKey, "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	config, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/nas", config.MountRoot)
}

func testValidate(t *testing.T) {
	config := NewDefaultConfig()
	config.Backend.Type = BackendS3
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.SafetyMargin = "lots"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.MountRoot = filepath.Join(config.LibraryRoot, "nas")
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Hooks.Actions = []HookActionConfig{{Name: "a", Command: []string{"true"}}, {Name: "a", Command: []string{"true"}}}
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Progress.Mode = "fancy"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Aliases = []catalog.AliasMapping{{Alias: "a", Source: "b"}, {Alias: "b", Source: "a"}}
	assert.Error(t, config.Validate())
}

func testImportEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "config.env")
	require.NoError(t, os.WriteFile(envPath, []byte(`# DeckDock
NAS_HOST=192.168.1.20
NAS_USER="admin"
export NAS_EXPORT='/volume1/games'
NAS_MOUNT=/tmp/nas-roms
`), 0644))

	config := NewDefaultConfig()
	require.NoError(t, config.ImportEnvFile(envPath))

	assert.Equal(t, "/tmp/nas-roms", config.MountRoot)
	assert.Equal(t, BackendSSH, config.Backend.Type)
	require.NotNil(t, config.Backend.SSH)
	assert.Equal(t, "192.168.1.20", config.Backend.SSH.Host)
	assert.Equal(t, "admin", config.Backend.SSH.User)
	assert.Equal(t, "/volume1/games/roms", config.Backend.SSH.RemoteRoot)

	localOnly := filepath.Join(dir, "local.env")
	require.NoError(t, os.WriteFile(localOnly, []byte("NAS_MOUNT=/mnt/roms\n"), 0644))

	config = NewDefaultConfig()
	require.NoError(t, config.ImportEnvFile(localOnly))
	assert.Equal(t, "/mnt/roms", config.MountRoot)
	assert.Equal(t, BackendMount, config.Backend.Type)

	assert.Error(t, config.ImportEnvFile(filepath.Join(dir, "missing.env")))
}

func testReadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "config.env")
	require.NoError(t, os.WriteFile(envPath, []byte(`NAS_BASE=/volume1
NAS_EXPORT=${NAS_BASE}/games # share on the NAS
NAS_ROM_SUBDIR="roms"
`), 0644))

	values, err := ReadEnvFile(envPath)
	require.NoError(t, err)
	assert.Equal(t, "/volume1/games", values["NAS_EXPORT"])
	assert.Equal(t, "roms", values["NAS_ROM_SUBDIR"])

	malformed := filepath.Join(dir, "malformed.env")
	require.NoError(t, os.WriteFile(malformed, []byte("NAS_HOST\n"), 0644))
	_, err = ReadEnvFile(malformed)
	assert.Error(t, err)
}

func testNewRuntime(t *testing.T) {
	dir := t.TempDir()
	config := NewDefaultConfig()
	config.LibraryRoot = filepath.Join(dir, "roms")
	config.MountRoot = filepath.Join(dir, "nas-roms")
	config.LockFile = filepath.Join(dir, "romcache.lock")
	config.MetricsFile = filepath.Join(dir, "romcache.prom")
	config.Progress.Mode = ProgressNone
	config.Hooks.Actions = []HookActionConfig{{Name: "reindex", Command: []string{"true"}}}

	launcher := hook.NewInlineLauncher()
	runtime, err := NewRuntime(context.Background(), config, launcher)
	require.NoError(t, err)

	assert.Equal(t, "mount", runtime.Client.GetName())
	assert.Len(t, runtime.Runner.GetHooks(), 1)
	assert.IsType(t, &report.NilReporter{}, runtime.Reporter)

	runtime.Release()
	_, err = os.Stat(config.MetricsFile)
	assert.NoError(t, err)
}
