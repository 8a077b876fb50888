package remote

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"sync"

	irodsclient_fs "github.com/cyverse/go-irodsclient/fs"
	irodsclient_types "github.com/cyverse/go-irodsclient/irods/types"
	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	irodsApplicationName string = "romcache"
	irodsReadBlockSize   int    = 8 * 1024 * 1024
)

// IRODSConfig is a configuration for IRODSClient
type IRODSConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Zone       string `yaml:"zone" json:"zone"`
	User       string `yaml:"user" json:"user"`
	Password   string `yaml:"password" json:"password"`
	Resource   string `yaml:"resource" json:"resource"`
	RemoteRoot string `yaml:"remote_root" json:"remote_root"`
}

// Validate validates IRODSConfig
func (config *IRODSConfig) Validate() error {
	if len(config.Host) == 0 {
		return xerrors.Errorf("irods host is not given")
	}

	if len(config.Zone) == 0 {
		return xerrors.Errorf("irods zone is not given")
	}

	if len(config.User) == 0 {
		return xerrors.Errorf("irods user is not given")
	}

	if !utils.IsAbsolutePath(config.RemoteRoot) {
		return xerrors.Errorf("irods remote root (%s) is not absolute path", config.RemoteRoot)
	}
	return nil
}

// IRODSClient implements Client with go-irodsclient, direct access to iRODS server
type IRODSClient struct {
	config  *IRODSConfig
	mapping *PathMapping
	account *irodsclient_types.IRODSAccount
	fs      *irodsclient_fs.FileSystem
	mutex   sync.Mutex
}

// NewIRODSClient creates Client using IRODSClient. Connection is made lazily.
func NewIRODSClient(config *IRODSConfig, mountRoot string) (Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to validate irods config: %w", err)
	}

	port := config.Port
	if port <= 0 {
		port = 1247
	}

	account, err := irodsclient_types.CreateIRODSAccount(config.Host, port, config.User, config.Zone, irodsclient_types.AuthSchemeNative, config.Password, config.Resource)
	if err != nil {
		return nil, xerrors.Errorf("failed to create irods account: %w", err)
	}

	return &IRODSClient{
		config:  config,
		mapping: NewPathMapping(mountRoot, config.RemoteRoot),
		account: account,
	}, nil
}

// Release releases resources
func (client *IRODSClient) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "remote",
		"struct":   "IRODSClient",
		"function": "Release",
	})

	defer utils.StackTraceFromPanic(logger)

	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.fs != nil {
		client.fs.Release()
		client.fs = nil
	}
}

// GetName returns client name
func (client *IRODSClient) GetName() string {
	return "irods://" + client.config.Host + "/" + client.config.Zone
}

func (client *IRODSClient) getFS(p string) (*irodsclient_fs.FileSystem, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if client.fs != nil {
		return client.fs, nil
	}

	goirodsfs, err := irodsclient_fs.NewFileSystemWithDefault(client.account, irodsApplicationName)
	if err != nil {
		return nil, types.NewUnreachableError(p, err)
	}

	client.fs = goirodsfs
	return goirodsfs, nil
}

// classifyError separates a missing data object from a connection problem
func (client *IRODSClient) classifyError(p string, err error) error {
	if irodsclient_types.IsFileNotFoundError(err) {
		return xerrors.Errorf("failed to find %s: %w", p, fs.ErrNotExist)
	}
	return types.NewUnreachableError(p, err)
}

func (client *IRODSClient) stat(p string) (*irodsclient_fs.Entry, error) {
	irodsPath, err := client.mapping.GetRemotePath(p)
	if err != nil {
		return nil, err
	}

	goirodsfs, err := client.getFS(p)
	if err != nil {
		return nil, err
	}

	entry, err := goirodsfs.Stat(irodsPath)
	if err != nil {
		return nil, client.classifyError(p, err)
	}
	return entry, nil
}

// Exists checks existence of a data object
func (client *IRODSClient) Exists(ctx context.Context, p string) (bool, error) {
	entry, err := client.stat(p)
	if err != nil {
		if xerrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return entry.Type == irodsclient_fs.FileEntry, nil
}

// Size returns the size of a data object
func (client *IRODSClient) Size(ctx context.Context, p string) (int64, error) {
	entry, err := client.stat(p)
	if err != nil {
		return 0, err
	}

	if entry.Type != irodsclient_fs.FileEntry {
		return 0, xerrors.Errorf("path %s is not a data object: %w", p, fs.ErrNotExist)
	}
	return entry.Size, nil
}

// List lists names in a collection
func (client *IRODSClient) List(ctx context.Context, dirPath string) ([]string, error) {
	irodsPath, err := client.mapping.GetRemotePath(dirPath)
	if err != nil {
		return nil, err
	}

	goirodsfs, err := client.getFS(dirPath)
	if err != nil {
		return nil, err
	}

	entries, err := goirodsfs.List(irodsPath)
	if err != nil {
		return nil, client.classifyError(dirPath, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

// copyTo reads the data object block by block into the writer
func (client *IRODSClient) copyTo(ctx context.Context, p string, writer io.Writer) error {
	logger := log.WithFields(log.Fields{
		"package":  "remote",
		"struct":   "IRODSClient",
		"function": "copyTo",
	})

	defer utils.StackTraceFromPanic(logger)

	entry, err := client.stat(p)
	if err != nil {
		return err
	}

	goirodsfs, err := client.getFS(p)
	if err != nil {
		return err
	}

	handle, err := goirodsfs.OpenFile(entry.Path, "", "r")
	if err != nil {
		return client.classifyError(p, err)
	}
	defer handle.Close()

	blockHelper := utils.NewFileBlockHelper(irodsReadBlockSize)
	buffer := make([]byte, blockHelper.GetBlockSize())
	blockCount := blockHelper.GetBlockCount(entry.Size)

	for blockID := int64(0); blockID < blockCount; blockID++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset, length := blockHelper.GetBlockRange(blockID, entry.Size)
		readLen, err := handle.ReadAt(buffer[:length], offset)
		if err != nil && err != io.EOF {
			return types.NewUnreachableError(p, err)
		}

		_, writeErr := writer.Write(buffer[:readLen])
		if writeErr != nil {
			return xerrors.Errorf("failed to write data of %s: %w", p, writeErr)
		}

		if readLen < length {
			return xerrors.Errorf("short read of %s at offset %d: %w", p, offset, io.ErrUnexpectedEOF)
		}
	}

	logger.Debugf("Read %d blocks of %s", blockCount, entry.Path)
	return nil
}

// ReadLines reads text lines of a data object
func (client *IRODSClient) ReadLines(ctx context.Context, p string) ([]string, error) {
	buffer := &bytes.Buffer{}
	err := client.copyTo(ctx, p, buffer)
	if err != nil {
		return nil, err
	}
	return splitLines(buffer.Bytes()), nil
}

// Transfer downloads a data object to the local destination path
func (client *IRODSClient) Transfer(ctx context.Context, srcPath string, dstPath string) error {
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %w", dstPath, err)
	}

	err = client.copyTo(ctx, srcPath, dst)
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
