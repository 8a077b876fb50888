package config

import (
	"os"
	"path/filepath"

	"github.com/deckdock/romcache/remote"
	"github.com/subosito/gotenv"
	"golang.org/x/xerrors"
)

// DeckDock config.env keys
const (
	envFileNASHost      string = "NAS_HOST"
	envFileNASUser      string = "NAS_USER"
	envFileNASExport    string = "NAS_EXPORT"
	envFileNASROMSubdir string = "NAS_ROM_SUBDIR"
	envFileNASMount     string = "NAS_MOUNT"

	defaultNASUser      string = "root"
	defaultNASROMSubdir string = "roms"
	defaultIdentityFile string = ".ssh/id_ed25519"
	defaultKnownHosts   string = ".ssh/known_hosts"
)

// ReadEnvFile reads a dotenv style file. Comments, quoting, an "export "
// prefix and ${VAR} expansion are handled by gotenv.
func ReadEnvFile(envPath string) (map[string]string, error) {
	f, err := os.Open(envPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to open env file %s: %w", envPath, err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse env file %s: %w", envPath, err)
	}
	return env, nil
}

// ImportEnvFile fills the mount root and an ssh backend from a DeckDock config.env
func (config *Config) ImportEnvFile(envPath string) error {
	values, err := ReadEnvFile(envPath)
	if err != nil {
		return err
	}

	if mount := values[envFileNASMount]; len(mount) > 0 {
		config.MountRoot = mount
	}

	host := values[envFileNASHost]
	export := values[envFileNASExport]
	if len(host) == 0 || len(export) == 0 {
		// no NAS configured, keep the mount backend
		return nil
	}

	user := values[envFileNASUser]
	if len(user) == 0 {
		user = defaultNASUser
	}

	subdir := values[envFileNASROMSubdir]
	if len(subdir) == 0 {
		subdir = defaultNASROMSubdir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return xerrors.Errorf("failed to get home dir: %w", err)
	}

	config.Backend = BackendConfig{
		Type: BackendSSH,
		SSH: &remote.SSHConfig{
			Host:           host,
			User:           user,
			IdentityFile:   filepath.Join(homeDir, defaultIdentityFile),
			KnownHostsFile: filepath.Join(homeDir, defaultKnownHosts),
			RemoteRoot:     filepath.Join(export, subdir),
		},
	}
	return nil
}
