package remote

import (
	"context"
)

// Client is a backing store client.
// Paths given to a Client are the absolute paths presence links point at,
// i.e., paths under the backing store mount root. Implementations map them
// to their own namespace.
//
// Missing files are reported with errors wrapping fs.ErrNotExist, transport
// failures with types.UnreachableError.
type Client interface {
	Release()

	GetName() string

	Exists(ctx context.Context, p string) (bool, error)
	Size(ctx context.Context, p string) (int64, error)
	ReadLines(ctx context.Context, p string) ([]string, error)
	List(ctx context.Context, dirPath string) ([]string, error)
	Transfer(ctx context.Context, srcPath string, dstPath string) error
}
