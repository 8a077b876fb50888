package remote

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/deckdock/romcache/types"
	"golang.org/x/xerrors"
)

// TransferHook is called by MemoryClient before a transfer writes data.
// Returning an error fails the transfer.
type TransferHook func(ctx context.Context, srcPath string) error

// MemoryClient implements Client with in-memory file contents.
// Used for testing and dry runs.
type MemoryClient struct {
	files        map[string][]byte
	unreachable  bool
	callCount    int
	transferHook TransferHook
	chunkSize    int
	mutex        sync.Mutex
}

// NewMemoryClient creates a new MemoryClient
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		files:     map[string][]byte{},
		chunkSize: 4096,
	}
}

// Release releases resources
func (client *MemoryClient) Release() {
}

// GetName returns client name
func (client *MemoryClient) GetName() string {
	return "memory"
}

// AddFile adds a file with the given content
func (client *MemoryClient) AddFile(p string, data []byte) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.files[filepath.Clean(p)] = data
}

// RemoveFile removes a file
func (client *MemoryClient) RemoveFile(p string) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	delete(client.files, filepath.Clean(p))
}

// SetUnreachable makes every following call fail as unreachable
func (client *MemoryClient) SetUnreachable(unreachable bool) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.unreachable = unreachable
}

// SetTransferHook sets a hook called at the start of every transfer
func (client *MemoryClient) SetTransferHook(hook TransferHook) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.transferHook = hook
}

// GetCallCount returns the number of calls made to the client
func (client *MemoryClient) GetCallCount() int {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	return client.callCount
}

// ResetCallCount resets the call counter
func (client *MemoryClient) ResetCallCount() {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.callCount = 0
}

func (client *MemoryClient) begin(p string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.callCount++
	if client.unreachable {
		return types.NewUnreachableError(p, errors.New("memory backing store is offline"))
	}
	return nil
}

func (client *MemoryClient) getFile(p string) ([]byte, bool) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	data, ok := client.files[filepath.Clean(p)]
	return data, ok
}

// Exists checks existence of a file
func (client *MemoryClient) Exists(ctx context.Context, p string) (bool, error) {
	if err := client.begin(p); err != nil {
		return false, err
	}

	_, ok := client.getFile(p)
	return ok, nil
}

// Size returns the size of a file
func (client *MemoryClient) Size(ctx context.Context, p string) (int64, error) {
	if err := client.begin(p); err != nil {
		return 0, err
	}

	data, ok := client.getFile(p)
	if !ok {
		return 0, xerrors.Errorf("failed to find %s: %w", p, fs.ErrNotExist)
	}
	return int64(len(data)), nil
}

// ReadLines reads text lines of a file
func (client *MemoryClient) ReadLines(ctx context.Context, p string) ([]string, error) {
	if err := client.begin(p); err != nil {
		return nil, err
	}

	data, ok := client.getFile(p)
	if !ok {
		return nil, xerrors.Errorf("failed to find %s: %w", p, fs.ErrNotExist)
	}
	return splitLines(data), nil
}

// List lists names in a directory
func (client *MemoryClient) List(ctx context.Context, dirPath string) ([]string, error) {
	if err := client.begin(dirPath); err != nil {
		return nil, err
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	dirPath = filepath.Clean(dirPath)
	names := []string{}
	for p := range client.files {
		if filepath.Dir(p) == dirPath {
			names = append(names, filepath.Base(p))
		}
	}

	sort.Strings(names)
	return names, nil
}

// Transfer writes file content to the local destination path in chunks
func (client *MemoryClient) Transfer(ctx context.Context, srcPath string, dstPath string) error {
	if err := client.begin(srcPath); err != nil {
		return err
	}

	client.mutex.Lock()
	hook := client.transferHook
	client.mutex.Unlock()

	if hook != nil {
		if err := hook(ctx, srcPath); err != nil {
			return xerrors.Errorf("failed to transfer %s: %w", srcPath, err)
		}
	}

	data, ok := client.getFile(srcPath)
	if !ok {
		return xerrors.Errorf("failed to find %s: %w", srcPath, fs.ErrNotExist)
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %w", dstPath, err)
	}

	for offset := 0; offset < len(data); offset += client.chunkSize {
		if err := ctx.Err(); err != nil {
			dst.Close()
			return err
		}

		end := offset + client.chunkSize
		if end > len(data) {
			end = len(data)
		}

		_, err = dst.Write(data[offset:end])
		if err != nil {
			dst.Close()
			return xerrors.Errorf("failed to write %s: %w", dstPath, err)
		}
	}

	return dst.Close()
}
