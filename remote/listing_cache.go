package remote

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	lrucache "github.com/hashicorp/golang-lru"
	"golang.org/x/xerrors"
)

const (
	// DefaultListingCacheSize is the number of directory listings kept
	DefaultListingCacheSize int = 256
)

// ListingCache caches directory listings of the backing store.
// Scans look up thousands of names in a handful of directories, so one
// List round-trip per directory replaces one Exists round-trip per file.
// Entries live for one scan; call Purge before reuse.
type ListingCache struct {
	client Client
	cache  *lrucache.Cache
	mutex  sync.Mutex
}

// NewListingCache creates a new ListingCache
func NewListingCache(client Client, size int) (*ListingCache, error) {
	if size <= 0 {
		size = DefaultListingCacheSize
	}

	cache, err := lrucache.New(size)
	if err != nil {
		return nil, xerrors.Errorf("failed to create lru cache: %w", err)
	}

	return &ListingCache{
		client: client,
		cache:  cache,
	}, nil
}

// GetClient returns the underlying client
func (listing *ListingCache) GetClient() Client {
	return listing.client
}

// Purge drops all cached listings
func (listing *ListingCache) Purge() {
	listing.cache.Purge()
}

// getNames returns the names in the dir, listing it once
func (listing *ListingCache) getNames(ctx context.Context, dirPath string) (map[string]bool, error) {
	dirPath = filepath.Clean(dirPath)

	listing.mutex.Lock()
	defer listing.mutex.Unlock()

	if cached, ok := listing.cache.Get(dirPath); ok {
		return cached.(map[string]bool), nil
	}

	names, err := listing.client.List(ctx, dirPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("failed to list %s: %w", dirPath, err)
		}
		// missing dir on the backing store means nothing in it
		names = []string{}
	}

	nameSet := make(map[string]bool, len(names))
	for _, name := range names {
		nameSet[name] = true
	}

	listing.cache.Add(dirPath, nameSet)
	return nameSet, nil
}

// Contains checks if the backing store has the file, using cached listings
func (listing *ListingCache) Contains(ctx context.Context, p string) (bool, error) {
	nameSet, err := listing.getNames(ctx, filepath.Dir(p))
	if err != nil {
		return false, err
	}

	return nameSet[filepath.Base(p)], nil
}
