package catalog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// DefaultMaxAliasDepth is the default number of links followed before giving up
	DefaultMaxAliasDepth int = 8
)

// Config is a configuration of the local library
type Config struct {
	// LibraryRoot holds one directory per namespace
	LibraryRoot string `yaml:"library_root" json:"library_root"`
	// MountRoot is where the backing store is mounted; presence links point under it
	MountRoot     string         `yaml:"mount_root" json:"mount_root"`
	Aliases       []AliasMapping `yaml:"aliases" json:"aliases"`
	MaxAliasDepth int            `yaml:"max_alias_depth" json:"max_alias_depth"`
}

// Validate validates Config
func (config *Config) Validate() error {
	if !utils.IsAbsolutePath(config.LibraryRoot) {
		return xerrors.Errorf("library root (%s) is not absolute path", config.LibraryRoot)
	}

	if !utils.IsAbsolutePath(config.MountRoot) {
		return xerrors.Errorf("mount root (%s) is not absolute path", config.MountRoot)
	}

	if utils.IsPathUnder(config.MountRoot, config.LibraryRoot) || utils.IsPathUnder(config.LibraryRoot, config.MountRoot) {
		return xerrors.Errorf("library root (%s) and mount root (%s) must not contain each other", config.LibraryRoot, config.MountRoot)
	}

	if config.MaxAliasDepth < 0 {
		return xerrors.Errorf("max alias depth (%d) is negative", config.MaxAliasDepth)
	}

	return ValidateAliasMappings(config.Aliases)
}

// Catalog models the local library: namespaces, presence links and alias relationships
type Catalog struct {
	config          *Config
	client          remote.Client
	aliasToSource   map[string]string
	sourceToAliases map[string][]string
}

// NewCatalog creates a new Catalog
func NewCatalog(config *Config, client remote.Client) (*Catalog, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("failed to validate catalog config: %w", err)
	}

	catalog := &Catalog{
		config:          config,
		client:          client,
		aliasToSource:   map[string]string{},
		sourceToAliases: map[string][]string{},
	}

	for _, mapping := range config.Aliases {
		catalog.aliasToSource[mapping.Alias] = mapping.Source
		catalog.sourceToAliases[mapping.Source] = append(catalog.sourceToAliases[mapping.Source], mapping.Alias)
	}

	for source := range catalog.sourceToAliases {
		sort.Strings(catalog.sourceToAliases[source])
	}

	return catalog, nil
}

// GetLibraryRoot returns the library root
func (catalog *Catalog) GetLibraryRoot() string {
	return filepath.Clean(catalog.config.LibraryRoot)
}

// GetMountRoot returns the backing store mount root
func (catalog *Catalog) GetMountRoot() string {
	return filepath.Clean(catalog.config.MountRoot)
}

// GetClient returns the backing store client
func (catalog *Catalog) GetClient() remote.Client {
	return catalog.client
}

func (catalog *Catalog) getMaxAliasDepth() int {
	if catalog.config.MaxAliasDepth == 0 {
		return DefaultMaxAliasDepth
	}
	return catalog.config.MaxAliasDepth
}

// Namespaces returns namespace names, i.e., directories under the library root
func (catalog *Catalog) Namespaces() ([]string, error) {
	dirEntries, err := os.ReadDir(catalog.GetLibraryRoot())
	if err != nil {
		return nil, xerrors.Errorf("failed to read library root %s: %w", catalog.GetLibraryRoot(), err)
	}

	namespaces := []string{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() && !utils.IsHiddenFile(dirEntry.Name()) {
			namespaces = append(namespaces, dirEntry.Name())
		}
	}

	sort.Strings(namespaces)
	return namespaces, nil
}

// IsAlias returns true if the namespace is declared as an alias
func (catalog *Catalog) IsAlias(namespace string) bool {
	_, ok := catalog.aliasToSource[namespace]
	return ok
}

// SourceNamespace returns the namespace whose backing store subtree serves the given one
func (catalog *Catalog) SourceNamespace(namespace string) string {
	current := namespace
	// mappings are validated to be acyclic
	for depth := 0; depth < len(catalog.aliasToSource)+1; depth++ {
		source, ok := catalog.aliasToSource[current]
		if !ok {
			return current
		}
		current = source
	}
	return current
}

// GetAliasSource returns the namespace an alias directly points through
func (catalog *Catalog) GetAliasSource(namespace string) (string, bool) {
	source, ok := catalog.aliasToSource[namespace]
	return source, ok
}

// AliasesOf returns namespaces declared as direct aliases of the given one
func (catalog *Catalog) AliasesOf(namespace string) []string {
	return catalog.sourceToAliases[namespace]
}

// NamespaceDir returns the local directory of the namespace
func (catalog *Catalog) NamespaceDir(namespace string) string {
	return filepath.Join(catalog.GetLibraryRoot(), namespace)
}

// BackingDir returns the backing store directory serving the namespace
func (catalog *Catalog) BackingDir(namespace string) string {
	return filepath.Join(catalog.GetMountRoot(), catalog.SourceNamespace(namespace))
}

// Entry returns the catalog entry for a local path
func (catalog *Catalog) Entry(p string) (*CatalogEntry, error) {
	absPath, err := filepath.Abs(p)
	if err != nil {
		return nil, xerrors.Errorf("failed to get absolute path of %s: %w", p, err)
	}

	if !utils.IsPathUnder(catalog.GetLibraryRoot(), absPath) {
		return nil, xerrors.Errorf("path %s is not under library root %s", absPath, catalog.GetLibraryRoot())
	}

	relPath, err := utils.GetRelativePath(catalog.GetLibraryRoot(), absPath)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(relPath, "/", 2)
	if len(parts) < 2 || len(parts[1]) == 0 {
		return nil, xerrors.Errorf("path %s is not inside a namespace directory", absPath)
	}

	return &CatalogEntry{
		Namespace:   parts[0],
		Filename:    parts[1],
		PrimaryPath: absPath,
		Format:      types.GetFileFormat(absPath),
	}, nil
}

// walk follows the link chain from the path without contacting the backing store
func (catalog *Catalog) walk(p string) (*Classification, error) {
	st, err := os.Lstat(p)
	if err != nil {
		return nil, xerrors.Errorf("failed to stat %s: %w", p, err)
	}

	if st.Mode().IsRegular() {
		return &Classification{
			State: types.PresenceLocal,
		}, nil
	}

	if st.Mode()&fs.ModeSymlink == 0 {
		return nil, xerrors.Errorf("path %s is neither a file nor a link", p)
	}

	mountRoot := catalog.GetMountRoot()
	maxDepth := catalog.getMaxAliasDepth()
	current := p

	for depth := 1; depth <= maxDepth; depth++ {
		target, err := os.Readlink(current)
		if err != nil {
			return nil, xerrors.Errorf("failed to read link %s: %w", current, err)
		}

		target = utils.ResolveLinkTarget(current, target)
		if utils.IsPathUnder(mountRoot, target) {
			return &Classification{
				State:       types.PresenceRemote,
				Link:        current,
				BackingPath: target,
				ChainDepth:  depth,
			}, nil
		}

		targetStat, err := os.Lstat(target)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &Classification{
					State:      types.PresenceOrphaned,
					Link:       current,
					ChainDepth: depth,
				}, nil
			}
			return nil, xerrors.Errorf("failed to stat link target %s: %w", target, err)
		}

		switch {
		case targetStat.Mode().IsRegular():
			// link to a file cached under another namespace
			return &Classification{
				State:      types.PresenceLocal,
				ChainDepth: depth,
			}, nil
		case targetStat.Mode()&fs.ModeSymlink != 0:
			current = target
		default:
			return nil, xerrors.Errorf("link target %s is neither a file nor a link", target)
		}
	}

	return nil, types.NewAliasChainError(p, maxDepth, "chain exceeds maximum depth")
}

// Classify inspects the path and returns its presence state.
// A local path is decided from the filesystem alone; only a chain ending
// in the backing store mount contacts the backing store.
func (catalog *Catalog) Classify(ctx context.Context, p string) (*Classification, error) {
	logger := log.WithFields(log.Fields{
		"package":  "catalog",
		"struct":   "Catalog",
		"function": "Classify",
	})

	classification, err := catalog.walk(p)
	if err != nil {
		return nil, err
	}

	if len(classification.BackingPath) == 0 {
		logger.Debugf("Classified %s as %s", p, classification.State)
		return classification, nil
	}

	exists, err := catalog.client.Exists(ctx, classification.BackingPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to check %s on backing store: %w", classification.BackingPath, err)
	}

	if !exists {
		classification.State = types.PresenceOrphaned
	}

	logger.Debugf("Classified %s as %s (backing store path %s)", p, classification.State, classification.BackingPath)
	return classification, nil
}

// ResolveAliasChain follows links from the path until one points into the backing store mount.
// Returns that link, the one to replace on fetch, and its backing store target.
func (catalog *Catalog) ResolveAliasChain(p string) (string, string, error) {
	classification, err := catalog.walk(p)
	if err != nil {
		return "", "", err
	}

	if len(classification.BackingPath) == 0 {
		return "", "", types.NewAliasChainError(p, classification.ChainDepth, "chain does not end in the backing store mount")
	}

	return classification.Link, classification.BackingPath, nil
}
