package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	t.Run("test ValidateAliasMappings", testValidateAliasMappings)
	t.Run("test Entry", testEntry)
	t.Run("test ClassifyLocal", testClassifyLocal)
	t.Run("test ClassifyRemote", testClassifyRemote)
	t.Run("test ClassifyOrphaned", testClassifyOrphaned)
	t.Run("test ClassifyUnreachable", testClassifyUnreachable)
	t.Run("test ClassifyUnmountedMount", testClassifyUnmountedMount)
	t.Run("test ResolveAliasChain", testResolveAliasChain)
	t.Run("test AliasChainTooDeep", testAliasChainTooDeep)
	t.Run("test Namespaces", testNamespaces)
}

func makeTestCatalog(t *testing.T, aliases []AliasMapping) (*Catalog, *remote.MemoryClient) {
	root := t.TempDir()
	libraryRoot := filepath.Join(root, "roms")
	mountRoot := filepath.Join(root, "nas-roms")

	for _, namespace := range []string{"psx", "3ds", "n3ds"} {
		require.NoError(t, os.MkdirAll(filepath.Join(libraryRoot, namespace), 0755))
	}

	client := remote.NewMemoryClient()
	catalog, err := NewCatalog(&Config{
		LibraryRoot: libraryRoot,
		MountRoot:   mountRoot,
		Aliases:     aliases,
	}, client)
	require.NoError(t, err)
	return catalog, client
}

func testValidateAliasMappings(t *testing.T) {
	assert.NoError(t, ValidateAliasMappings([]AliasMapping{{Alias: "n3ds", Source: "3ds"}}))
	assert.NoError(t, ValidateAliasMappings(nil))

	assert.Error(t, ValidateAliasMappings([]AliasMapping{{Alias: "3ds", Source: "3ds"}}))
	assert.Error(t, ValidateAliasMappings([]AliasMapping{{Alias: "n3ds", Source: "3ds"}, {Alias: "n3ds", Source: "nds"}}))
	assert.Error(t, ValidateAliasMappings([]AliasMapping{{Alias: "a", Source: "b"}, {Alias: "b", Source: "a"}}))
	assert.Error(t, ValidateAliasMappings([]AliasMapping{{Alias: "a/b", Source: "c"}}))
}

func testEntry(t *testing.T) {
	catalog, _ := makeTestCatalog(t, nil)

	entry, err := catalog.Entry(filepath.Join(catalog.GetLibraryRoot(), "psx", "Game (Disc 1).cue"))
	assert.NoError(t, err)
	assert.Equal(t, "psx", entry.Namespace)
	assert.Equal(t, "Game (Disc 1).cue", entry.Filename)
	assert.Equal(t, types.FormatCueSheet, entry.Format)

	_, err = catalog.Entry(filepath.Join(catalog.GetLibraryRoot(), "stray.txt"))
	assert.Error(t, err)

	_, err = catalog.Entry("/elsewhere/psx/game.cue")
	assert.Error(t, err)
}

func testClassifyLocal(t *testing.T) {
	catalog, client := makeTestCatalog(t, nil)
	localPath := filepath.Join(catalog.NamespaceDir("psx"), "game.chd")
	require.NoError(t, os.WriteFile(localPath, []byte("data"), 0644))

	classification, err := catalog.Classify(context.Background(), localPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceLocal, classification.State)
	assert.Equal(t, 0, client.GetCallCount())
}

func testClassifyRemote(t *testing.T) {
	catalog, client := makeTestCatalog(t, nil)
	backingPath := filepath.Join(catalog.BackingDir("psx"), "game.chd")
	linkPath := filepath.Join(catalog.NamespaceDir("psx"), "game.chd")
	client.AddFile(backingPath, []byte("data"))
	require.NoError(t, os.Symlink(backingPath, linkPath))

	classification, err := catalog.Classify(context.Background(), linkPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceRemote, classification.State)
	assert.Equal(t, backingPath, classification.BackingPath)
	assert.Equal(t, linkPath, classification.Link)
}

func testClassifyOrphaned(t *testing.T) {
	catalog, _ := makeTestCatalog(t, nil)
	backingPath := filepath.Join(catalog.BackingDir("psx"), "gone.chd")
	linkPath := filepath.Join(catalog.NamespaceDir("psx"), "gone.chd")
	require.NoError(t, os.Symlink(backingPath, linkPath))

	classification, err := catalog.Classify(context.Background(), linkPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceOrphaned, classification.State)

	danglingPath := filepath.Join(catalog.NamespaceDir("n3ds"), "dangling.3ds")
	require.NoError(t, os.Symlink(filepath.Join(catalog.NamespaceDir("3ds"), "dangling.3ds"), danglingPath))

	classification, err = catalog.Classify(context.Background(), danglingPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceOrphaned, classification.State)
}

func testClassifyUnreachable(t *testing.T) {
	catalog, client := makeTestCatalog(t, nil)
	backingPath := filepath.Join(catalog.BackingDir("psx"), "game.chd")
	linkPath := filepath.Join(catalog.NamespaceDir("psx"), "game.chd")
	client.AddFile(backingPath, []byte("data"))
	require.NoError(t, os.Symlink(backingPath, linkPath))

	client.SetUnreachable(true)
	_, err := catalog.Classify(context.Background(), linkPath)
	assert.True(t, types.IsUnreachableError(err))
	assert.False(t, types.IsAssetRemovedError(err))
}

func testClassifyUnmountedMount(t *testing.T) {
	root := t.TempDir()
	libraryRoot := filepath.Join(root, "roms")
	mountRoot := filepath.Join(root, "nas-roms")
	require.NoError(t, os.MkdirAll(filepath.Join(libraryRoot, "psx"), 0755))
	// an unmounted share leaves an empty mount point dir behind
	require.NoError(t, os.MkdirAll(mountRoot, 0755))

	catalog, err := NewCatalog(&Config{
		LibraryRoot: libraryRoot,
		MountRoot:   mountRoot,
	}, remote.NewMountClient(mountRoot))
	require.NoError(t, err)

	linkPath := filepath.Join(libraryRoot, "psx", "game.iso")
	require.NoError(t, os.Symlink(filepath.Join(mountRoot, "psx", "game.iso"), linkPath))

	_, err = catalog.Classify(context.Background(), linkPath)
	assert.True(t, types.IsUnreachableError(err))
	assert.False(t, types.IsAssetRemovedError(err))

	// with the namespace dir present the file is really gone
	require.NoError(t, os.MkdirAll(filepath.Join(mountRoot, "psx"), 0755))
	classification, err := catalog.Classify(context.Background(), linkPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceOrphaned, classification.State)

	require.NoError(t, os.WriteFile(filepath.Join(mountRoot, "psx", "game.iso"), []byte("iso"), 0644))
	classification, err = catalog.Classify(context.Background(), linkPath)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceRemote, classification.State)
}

func testResolveAliasChain(t *testing.T) {
	catalog, client := makeTestCatalog(t, []AliasMapping{{Alias: "n3ds", Source: "3ds"}})
	backingPath := filepath.Join(catalog.BackingDir("3ds"), "game.3ds")
	sourceLink := filepath.Join(catalog.NamespaceDir("3ds"), "game.3ds")
	aliasLink := filepath.Join(catalog.NamespaceDir("n3ds"), "game.3ds")
	client.AddFile(backingPath, []byte("data"))

	require.NoError(t, os.Symlink(backingPath, sourceLink))
	// relative link through the source namespace
	require.NoError(t, os.Symlink("../3ds/game.3ds", aliasLink))

	canonical, backing, err := catalog.ResolveAliasChain(aliasLink)
	assert.NoError(t, err)
	assert.Equal(t, sourceLink, canonical)
	assert.Equal(t, backingPath, backing)

	assert.Equal(t, "3ds", catalog.SourceNamespace("n3ds"))
	assert.Equal(t, catalog.BackingDir("3ds"), catalog.BackingDir("n3ds"))
	assert.Equal(t, []string{"n3ds"}, catalog.AliasesOf("3ds"))

	classification, err := catalog.Classify(context.Background(), aliasLink)
	assert.NoError(t, err)
	assert.Equal(t, types.PresenceRemote, classification.State)
	assert.Equal(t, 2, classification.ChainDepth)

	localPath := filepath.Join(catalog.NamespaceDir("psx"), "local.chd")
	require.NoError(t, os.WriteFile(localPath, []byte("data"), 0644))
	_, _, err = catalog.ResolveAliasChain(localPath)
	assert.True(t, types.IsAliasChainError(err))
}

func testAliasChainTooDeep(t *testing.T) {
	catalog, _ := makeTestCatalog(t, nil)
	catalog.config.MaxAliasDepth = 2

	dir := catalog.NamespaceDir("psx")
	require.NoError(t, os.Symlink(filepath.Join(dir, "b"), filepath.Join(dir, "a")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "c"), filepath.Join(dir, "b")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "c")))

	_, err := catalog.Classify(context.Background(), filepath.Join(dir, "a"))
	assert.True(t, types.IsAliasChainError(err))
}

func testNamespaces(t *testing.T) {
	catalog, _ := makeTestCatalog(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(catalog.GetLibraryRoot(), ".hidden"), 0755))

	namespaces, err := catalog.Namespaces()
	assert.NoError(t, err)
	assert.Equal(t, []string{"3ds", "n3ds", "psx"}, namespaces)
}
