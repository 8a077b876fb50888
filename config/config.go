package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deckdock/romcache/catalog"
	"github.com/deckdock/romcache/fetch"
	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/utils"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	ConfigPathEnvKey  string = "ROMCACHE_CONFIG"
	LibraryRootEnvKey string = "ROMCACHE_LIBRARY_ROOT"
	MountRootEnvKey   string = "ROMCACHE_MOUNT_ROOT"
	LockFileEnvKey    string = "ROMCACHE_LOCK_FILE"
	LogLevelEnvKey    string = "ROMCACHE_LOG_LEVEL"
)

// Backend types
const (
	BackendMount string = "mount"
	BackendSSH   string = "ssh"
	BackendIRODS string = "irods"
	BackendS3    string = "s3"
)

// Progress modes
const (
	ProgressTerminal string = "terminal"
	ProgressDialog   string = "dialog"
	ProgressLog      string = "log"
	ProgressNone     string = "none"
)

const (
	defaultMountRoot     string = "/tmp/nas-roms"
	defaultSafetyMargin  string = "512 MiB"
	defaultLockFileName  string = "romcache-download.lock"
	defaultHookLogName   string = "romcache-hooks.log"
	defaultLogLevel      string = "info"
	defaultLogFormat     string = "text"
	configDirName        string = "romcache"
	configFileName       string = "config.yaml"
	defaultDialogCommand string = "zenity"
)

// BackendConfig selects and configures the backing store client
type BackendConfig struct {
	Type  string              `yaml:"type" json:"type"`
	SSH   *remote.SSHConfig   `yaml:"ssh,omitempty" json:"ssh,omitempty"`
	IRODS *remote.IRODSConfig `yaml:"irods,omitempty" json:"irods,omitempty"`
	S3    *remote.S3Config    `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// HookActionConfig is a post-mutation command
type HookActionConfig struct {
	Name    string        `yaml:"name" json:"name"`
	Command []string      `yaml:"command" json:"command"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// HooksConfig configures post-mutation hooks
type HooksConfig struct {
	// Detach runs hooks in a new session that outlives this process
	Detach  bool               `yaml:"detach" json:"detach"`
	LogFile string             `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	Actions []HookActionConfig `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ProgressConfig configures progress display
type ProgressConfig struct {
	Mode          string   `yaml:"mode" json:"mode"`
	DialogCommand []string `yaml:"dialog_command,omitempty" json:"dialog_command,omitempty"`
}

// Config holds romcache configuration
type Config struct {
	LibraryRoot      string                 `yaml:"library_root" json:"library_root"`
	MountRoot        string                 `yaml:"mount_root" json:"mount_root"`
	LockFile         string                 `yaml:"lock_file" json:"lock_file"`
	SafetyMargin     string                 `yaml:"safety_margin" json:"safety_margin"`
	MaxAliasDepth    int                    `yaml:"max_alias_depth" json:"max_alias_depth"`
	Aliases          []catalog.AliasMapping `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Backend          BackendConfig          `yaml:"backend" json:"backend"`
	Hooks            HooksConfig            `yaml:"hooks" json:"hooks"`
	Progress         ProgressConfig         `yaml:"progress" json:"progress"`
	PollInterval     time.Duration          `yaml:"poll_interval" json:"poll_interval"`
	ListingCacheSize int                    `yaml:"listing_cache_size" json:"listing_cache_size"`
	MetricsFile      string                 `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`
	LogLevel         string                 `yaml:"log_level" json:"log_level"`
	LogFormat        string                 `yaml:"log_format" json:"log_format"`
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if len(configDir) == 0 {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, configDirName, configFileName)
}

func getDefaultLibraryRoot() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/"
	}
	return filepath.Join(homeDir, "Emulation", "roms")
}

func getRuntimeDir() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if len(runtimeDir) == 0 {
		return os.TempDir()
	}
	return runtimeDir
}

// NewDefaultConfig returns a default Config
func NewDefaultConfig() *Config {
	return &Config{
		LibraryRoot:   getDefaultLibraryRoot(),
		MountRoot:     defaultMountRoot,
		LockFile:      filepath.Join(os.TempDir(), defaultLockFileName),
		SafetyMargin:  defaultSafetyMargin,
		MaxAliasDepth: catalog.DefaultMaxAliasDepth,
		Aliases:       []catalog.AliasMapping{},
		Backend: BackendConfig{
			Type: BackendMount,
		},
		Hooks: HooksConfig{
			Detach:  true,
			LogFile: filepath.Join(getRuntimeDir(), defaultHookLogName),
			Actions: []HookActionConfig{},
		},
		Progress: ProgressConfig{
			Mode:          ProgressTerminal,
			DialogCommand: []string{defaultDialogCommand, "--progress", "--title=Downloading", "--no-cancel", "--auto-close"},
		},
		PollInterval:     fetch.DefaultPollInterval,
		ListingCacheSize: remote.DefaultListingCacheSize,
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
	}
}

// NewConfigFromYAML creates Config from YAML, on top of defaults
func NewConfigFromYAML(yamlBytes []byte) (*Config, error) {
	config := NewDefaultConfig()

	err := yaml.Unmarshal(yamlBytes, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal YAML to config: %w", err)
	}
	return config, nil
}

// LoadConfig loads Config from the file.
// A missing file at the default path yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	logger := log.WithFields(log.Fields{
		"package":  "config",
		"function": "LoadConfig",
	})

	explicit := len(configPath) > 0
	if !explicit {
		configPath = os.Getenv(ConfigPathEnvKey)
		explicit = len(configPath) > 0
	}
	if !explicit {
		configPath = GetDefaultConfigPath()
	}

	yamlBytes, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			logger.Debugf("No config file at %s, using defaults", configPath)
			config := NewDefaultConfig()
			config.ApplyEnv()
			return config, nil
		}
		return nil, xerrors.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config, err := NewConfigFromYAML(yamlBytes)
	if err != nil {
		return nil, xerrors.Errorf("failed to load config file %s: %w", configPath, err)
	}

	config.ApplyEnv()
	return config, nil
}

// ApplyEnv overrides values from environment variables
func (config *Config) ApplyEnv() {
	if value := os.Getenv(LibraryRootEnvKey); len(value) > 0 {
		config.LibraryRoot = value
	}

	if value := os.Getenv(MountRootEnvKey); len(value) > 0 {
		config.MountRoot = value
	}

	if value := os.Getenv(LockFileEnvKey); len(value) > 0 {
		config.LockFile = value
	}

	if value := os.Getenv(LogLevelEnvKey); len(value) > 0 {
		config.LogLevel = value
	}
}

// GetSafetyMargin returns the safety margin in bytes
func (config *Config) GetSafetyMargin() (int64, error) {
	if len(strings.TrimSpace(config.SafetyMargin)) == 0 {
		return 0, nil
	}

	margin, err := humanize.ParseBytes(config.SafetyMargin)
	if err != nil {
		return 0, xerrors.Errorf("failed to parse safety margin %q: %w", config.SafetyMargin, err)
	}
	return int64(margin), nil
}

// GetCatalogConfig returns the catalog part of Config
func (config *Config) GetCatalogConfig() *catalog.Config {
	return &catalog.Config{
		LibraryRoot:   config.LibraryRoot,
		MountRoot:     config.MountRoot,
		Aliases:       config.Aliases,
		MaxAliasDepth: config.MaxAliasDepth,
	}
}

// Validate validates Config
func (config *Config) Validate() error {
	err := config.GetCatalogConfig().Validate()
	if err != nil {
		return err
	}

	if !utils.IsAbsolutePath(config.LockFile) {
		return xerrors.Errorf("lock file (%s) is not absolute path", config.LockFile)
	}

	if _, err := config.GetSafetyMargin(); err != nil {
		return err
	}

	if config.PollInterval < 0 {
		return xerrors.Errorf("poll interval (%s) is negative", config.PollInterval)
	}

	if config.ListingCacheSize < 0 {
		return xerrors.Errorf("listing cache size (%d) is negative", config.ListingCacheSize)
	}

	switch config.Backend.Type {
	case BackendMount, "":
	case BackendSSH:
		if config.Backend.SSH == nil {
			return xerrors.Errorf("ssh backend is selected but not configured")
		}
		if err := config.Backend.SSH.Validate(); err != nil {
			return err
		}
	case BackendIRODS:
		if config.Backend.IRODS == nil {
			return xerrors.Errorf("irods backend is selected but not configured")
		}
		if err := config.Backend.IRODS.Validate(); err != nil {
			return err
		}
	case BackendS3:
		if config.Backend.S3 == nil {
			return xerrors.Errorf("s3 backend is selected but not configured")
		}
		if err := config.Backend.S3.Validate(); err != nil {
			return err
		}
	default:
		return xerrors.Errorf("unknown backend type %q", config.Backend.Type)
	}

	names := map[string]bool{}
	for _, action := range config.Hooks.Actions {
		if len(action.Name) == 0 {
			return xerrors.Errorf("hook action has no name")
		}
		if names[action.Name] {
			return xerrors.Errorf("hook action %s is defined twice", action.Name)
		}
		names[action.Name] = true

		if len(action.Command) == 0 {
			return xerrors.Errorf("hook action %s has no command", action.Name)
		}
	}

	switch config.Progress.Mode {
	case ProgressTerminal, ProgressLog, ProgressNone, "":
	case ProgressDialog:
		if len(config.Progress.DialogCommand) == 0 {
			return xerrors.Errorf("dialog progress is selected but dialog command is empty")
		}
	default:
		return xerrors.Errorf("unknown progress mode %q", config.Progress.Mode)
	}

	if _, err := log.ParseLevel(config.LogLevel); err != nil {
		return xerrors.Errorf("failed to parse log level %q: %w", config.LogLevel, err)
	}

	switch config.LogFormat {
	case "text", "json", "":
	default:
		return xerrors.Errorf("unknown log format %q", config.LogFormat)
	}
	return nil
}

// ConfigureLogging sets logrus level and formatter
func (config *Config) ConfigureLogging() error {
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		return xerrors.Errorf("failed to parse log level %q: %w", config.LogLevel, err)
	}
	log.SetLevel(level)

	if config.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}
	return nil
}
