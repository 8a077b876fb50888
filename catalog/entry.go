package catalog

import (
	"fmt"

	"github.com/deckdock/romcache/types"
)

// CatalogEntry is an entry of the local library, identified by namespace and filename
type CatalogEntry struct {
	Namespace string
	// Filename is relative to the namespace directory
	Filename    string
	PrimaryPath string
	Format      types.FileFormat
}

// ToString stringifies the object
func (entry *CatalogEntry) ToString() string {
	return fmt.Sprintf("<CatalogEntry %s %s %s %s>", entry.Namespace, entry.Filename, entry.PrimaryPath, entry.Format)
}

// Classification is the result of classifying a catalog path
type Classification struct {
	State types.PresenceState
	// Link is the last link of the chain, the one pointing into the backing store mount.
	// Empty for a regular file.
	Link string
	// BackingPath is the backing store target. Set only when the chain ends in the mount.
	BackingPath string
	// ChainDepth is the number of links followed
	ChainDepth int
}
