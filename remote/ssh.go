package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/xerrors"
)

const (
	// exit status the remote shell uses for a missing file
	sshExitNotFound int = 3

	defaultSSHPort           int           = 22
	defaultSSHConnectTimeout time.Duration = 10 * time.Second
)

// SSHConfig is a configuration for SSHClient
type SSHConfig struct {
	Host                  string        `yaml:"host" json:"host"`
	Port                  int           `yaml:"port" json:"port"`
	User                  string        `yaml:"user" json:"user"`
	IdentityFile          string        `yaml:"identity_file" json:"identity_file"`
	KnownHostsFile        string        `yaml:"known_hosts_file" json:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key"`
	RemoteRoot            string        `yaml:"remote_root" json:"remote_root"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// Validate validates SSHConfig
func (config *SSHConfig) Validate() error {
	if len(config.Host) == 0 {
		return xerrors.Errorf("ssh host is not given")
	}

	if len(config.User) == 0 {
		return xerrors.Errorf("ssh user is not given")
	}

	if len(config.IdentityFile) == 0 {
		return xerrors.Errorf("ssh identity file is not given")
	}

	if len(config.KnownHostsFile) == 0 && !config.InsecureIgnoreHostKey {
		return xerrors.Errorf("ssh known hosts file is not given")
	}

	if !utils.IsAbsolutePath(config.RemoteRoot) {
		return xerrors.Errorf("ssh remote root (%s) is not absolute path", config.RemoteRoot)
	}
	return nil
}

// SSHClient implements Client by running commands on the backing store host over SSH.
// It talks to the host directly, so liveness checks do not depend on a possibly stale mount.
type SSHClient struct {
	config       *SSHConfig
	mapping      *PathMapping
	clientConfig *ssh.ClientConfig
	sshClient    *ssh.Client
	mutex        sync.Mutex
}

// NewSSHClient creates Client using SSHClient. Connection is made lazily.
func NewSSHClient(config *SSHConfig, mountRoot string) (Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to validate ssh config: %w", err)
	}

	keyBytes, err := os.ReadFile(config.IdentityFile)
	if err != nil {
		return nil, xerrors.Errorf("failed to read identity file %s: %w", config.IdentityFile, err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse identity file %s: %w", config.IdentityFile, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !config.InsecureIgnoreHostKey {
		hostKeyCallback, err = knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, xerrors.Errorf("failed to read known hosts file %s: %w", config.KnownHostsFile, err)
		}
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultSSHConnectTimeout
	}

	return &SSHClient{
		config:  config,
		mapping: NewPathMapping(mountRoot, config.RemoteRoot),
		clientConfig: &ssh.ClientConfig{
			User:            config.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
	}, nil
}

// Release releases resources
func (client *SSHClient) Release() {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.sshClient != nil {
		client.sshClient.Close()
		client.sshClient = nil
	}
}

// GetName returns client name
func (client *SSHClient) GetName() string {
	return fmt.Sprintf("ssh://%s@%s", client.config.User, client.getAddress())
}

func (client *SSHClient) getAddress() string {
	port := client.config.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(client.config.Host, strconv.Itoa(port))
}

func (client *SSHClient) connect() (*ssh.Client, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.sshClient != nil {
		return client.sshClient, nil
	}

	sshClient, err := ssh.Dial("tcp", client.getAddress(), client.clientConfig)
	if err != nil {
		return nil, err
	}

	client.sshClient = sshClient
	return sshClient, nil
}

// disconnect drops a broken connection so the next call redials
func (client *SSHClient) disconnect(sshClient *ssh.Client) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.sshClient == sshClient {
		client.sshClient.Close()
		client.sshClient = nil
	}
}

// run runs the shell command for the path and returns the exit status.
// Transport failures are returned as UnreachableError.
func (client *SSHClient) run(ctx context.Context, p string, command string, stdout io.Writer) (int, error) {
	logger := log.WithFields(log.Fields{
		"package":  "remote",
		"struct":   "SSHClient",
		"function": "run",
	})

	defer utils.StackTraceFromPanic(logger)

	sshClient, err := client.connect()
	if err != nil {
		return 0, types.NewUnreachableError(p, err)
	}

	session, err := sshClient.NewSession()
	if err != nil {
		client.disconnect(sshClient)
		return 0, types.NewUnreachableError(p, err)
	}
	defer session.Close()

	stderr := &bytes.Buffer{}
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	logger.Debugf("Running %q on %s", command, client.getAddress())
	err = session.Run(command)
	if err == nil {
		return 0, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitStatus() != sshExitNotFound {
			logger.Debugf("command exited with %d: %s", exitErr.ExitStatus(), strings.TrimSpace(stderr.String()))
		}
		return exitErr.ExitStatus(), nil
	}

	client.disconnect(sshClient)
	return 0, types.NewUnreachableError(p, err)
}

// runFileCommand runs a command on an existing remote file, failing with fs.ErrNotExist otherwise
func (client *SSHClient) runFileCommand(ctx context.Context, p string, test string, command string, stdout io.Writer) error {
	remotePath, err := client.mapping.GetRemotePath(p)
	if err != nil {
		return err
	}

	quoted := shellescape.Quote(remotePath)
	script := fmt.Sprintf("[ %s %s ] || exit %d; %s -- %s", test, quoted, sshExitNotFound, command, quoted)

	status, err := client.run(ctx, p, script, stdout)
	if err != nil {
		return err
	}

	switch status {
	case 0:
		return nil
	case sshExitNotFound:
		return xerrors.Errorf("failed to find %s: %w", remotePath, fs.ErrNotExist)
	default:
		return xerrors.Errorf("remote command %q exited with status %d", command, status)
	}
}

// Exists checks existence of a file
func (client *SSHClient) Exists(ctx context.Context, p string) (bool, error) {
	remotePath, err := client.mapping.GetRemotePath(p)
	if err != nil {
		return false, err
	}

	status, err := client.run(ctx, p, fmt.Sprintf("test -f %s", shellescape.Quote(remotePath)), io.Discard)
	if err != nil {
		return false, err
	}
	return status == 0, nil
}

// Size returns the size of a file
func (client *SSHClient) Size(ctx context.Context, p string) (int64, error) {
	stdout := &bytes.Buffer{}
	err := client.runFileCommand(ctx, p, "-f", "stat -L -c %s", stdout)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(strings.TrimSpace(stdout.String()), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("failed to parse size of %s: %w", p, err)
	}
	return size, nil
}

// ReadLines reads text lines of a file
func (client *SSHClient) ReadLines(ctx context.Context, p string) ([]string, error) {
	stdout := &bytes.Buffer{}
	err := client.runFileCommand(ctx, p, "-f", "cat", stdout)
	if err != nil {
		return nil, err
	}
	return splitLines(stdout.Bytes()), nil
}

// List lists names in a directory
func (client *SSHClient) List(ctx context.Context, dirPath string) ([]string, error) {
	stdout := &bytes.Buffer{}
	err := client.runFileCommand(ctx, dirPath, "-d", "ls -1A", stdout)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, line := range splitLines(stdout.Bytes()) {
		if len(line) > 0 {
			names = append(names, line)
		}
	}
	return names, nil
}

// Transfer streams a file to the local destination path
func (client *SSHClient) Transfer(ctx context.Context, srcPath string, dstPath string) error {
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %w", dstPath, err)
	}

	err = client.runFileCommand(ctx, srcPath, "-f", "cat", dst)
	if err != nil {
		dst.Close()
		return xerrors.Errorf("failed to transfer %s: %w", srcPath, err)
	}

	err = dst.Close()
	if err != nil {
		return xerrors.Errorf("failed to close %s: %w", dstPath, err)
	}
	return nil
}
