package remote

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/deckdock/romcache/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemote(t *testing.T) {
	t.Run("test PathMapping", testPathMapping)
	t.Run("test SplitLines", testSplitLines)
	t.Run("test MountClient", testMountClient)
	t.Run("test MountClientUnmounted", testMountClientUnmounted)
	t.Run("test MemoryClient", testMemoryClient)
	t.Run("test ListingCache", testListingCache)
}

func testPathMapping(t *testing.T) {
	mapping := NewPathMapping("/tmp/nas-roms", "/volume1/roms")

	remotePath, err := mapping.GetRemotePath("/tmp/nas-roms/psx/Game (Disc 1).cue")
	assert.NoError(t, err)
	assert.Equal(t, "/volume1/roms/psx/Game (Disc 1).cue", remotePath)

	_, err = mapping.GetRemotePath("/home/deck/roms/psx/game.cue")
	assert.Error(t, err)

	keyMapping := NewPathMapping("/tmp/nas-roms", "")
	key, err := keyMapping.GetObjectKey("/tmp/nas-roms/snes/game.sfc")
	assert.NoError(t, err)
	assert.Equal(t, "snes/game.sfc", key)
}

func testSplitLines(t *testing.T) {
	lines := splitLines([]byte("\ufeffgame (Disc 1).chd\r\ngame (Disc 2).chd\r\n"))
	assert.Equal(t, []string{"game (Disc 1).chd", "game (Disc 2).chd"}, lines)

	assert.Empty(t, splitLines([]byte("")))
}

func testMountClient(t *testing.T) {
	ctx := context.Background()
	mountRoot := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(mountRoot, "psx"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mountRoot, "psx", "game.cue"), []byte("FILE \"game.bin\" BINARY\n"), 0644))

	client := NewMountClient(mountRoot)
	defer client.Release()

	exists, err := client.Exists(ctx, filepath.Join(mountRoot, "psx", "game.cue"))
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.Exists(ctx, filepath.Join(mountRoot, "psx", "missing.cue"))
	assert.NoError(t, err)
	assert.False(t, exists)

	_, err = client.Size(ctx, filepath.Join(mountRoot, "psx", "missing.cue"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, types.IsUnreachableError(err))

	lines, err := client.ReadLines(ctx, filepath.Join(mountRoot, "psx", "game.cue"))
	assert.NoError(t, err)
	assert.Equal(t, []string{"FILE \"game.bin\" BINARY"}, lines)

	dst := filepath.Join(t.TempDir(), "game.cue.part")
	err = client.Transfer(ctx, filepath.Join(mountRoot, "psx", "game.cue"), dst)
	assert.NoError(t, err)

	data, err := os.ReadFile(dst)
	assert.NoError(t, err)
	assert.Equal(t, "FILE \"game.bin\" BINARY\n", string(data))

	_, err = client.Exists(ctx, "/somewhere/else")
	assert.Error(t, err)
}

func testMountClientUnmounted(t *testing.T) {
	ctx := context.Background()
	mountRoot := filepath.Join(t.TempDir(), "nas-roms")
	require.NoError(t, os.MkdirAll(mountRoot, 0755))

	client := NewMountClient(mountRoot)
	defer client.Release()

	p := filepath.Join(mountRoot, "psx", "game.chd")
	_, err := client.Exists(ctx, p)
	assert.True(t, types.IsUnreachableError(err))

	_, err = client.Size(ctx, p)
	assert.True(t, types.IsUnreachableError(err))

	_, err = client.ReadLines(ctx, p)
	assert.True(t, types.IsUnreachableError(err))

	err = client.Transfer(ctx, p, filepath.Join(t.TempDir(), "game.chd.part"))
	assert.True(t, types.IsUnreachableError(err))

	// a missing mount root is unreachable too
	goneRoot := filepath.Join(t.TempDir(), "missing")
	gone := NewMountClient(goneRoot)
	_, err = gone.Exists(ctx, filepath.Join(goneRoot, "psx", "game.chd"))
	assert.True(t, types.IsUnreachableError(err))
}

func testMemoryClient(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	client.AddFile("/mnt/psx/game.bin", make([]byte, 10000))

	size, err := client.Size(ctx, "/mnt/psx/game.bin")
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), size)

	dst := filepath.Join(t.TempDir(), "game.bin")
	assert.NoError(t, client.Transfer(ctx, "/mnt/psx/game.bin", dst))

	st, err := os.Stat(dst)
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), st.Size())
	assert.Equal(t, 2, client.GetCallCount())

	client.SetUnreachable(true)
	_, err = client.Exists(ctx, "/mnt/psx/game.bin")
	assert.True(t, types.IsUnreachableError(err))
}

func testListingCache(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	client.AddFile("/mnt/psx/a.chd", []byte("a"))
	client.AddFile("/mnt/psx/b.chd", []byte("b"))

	listing, err := NewListingCache(client, 4)
	require.NoError(t, err)

	found, err := listing.Contains(ctx, "/mnt/psx/a.chd")
	assert.NoError(t, err)
	assert.True(t, found)

	found, err = listing.Contains(ctx, "/mnt/psx/c.chd")
	assert.NoError(t, err)
	assert.False(t, found)

	found, err = listing.Contains(ctx, "/mnt/snes/a.sfc")
	assert.NoError(t, err)
	assert.False(t, found)

	// one List per directory
	assert.Equal(t, 2, client.GetCallCount())

	listing.Purge()
	_, err = listing.Contains(ctx, "/mnt/psx/b.chd")
	assert.NoError(t, err)
	assert.Equal(t, 3, client.GetCallCount())
}
