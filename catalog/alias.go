package catalog

import (
	"strings"

	"golang.org/x/xerrors"
)

// AliasMapping declares a namespace as an alias of another.
// Entries requested under Alias are served from Source's backing store subtree,
// with links in Alias's directory pointing through Source's directory.
type AliasMapping struct {
	Alias  string `yaml:"alias" json:"alias"`
	Source string `yaml:"source" json:"source"`
}

// Validate validates AliasMapping
func (mapping *AliasMapping) Validate() error {
	if !isValidNamespace(mapping.Alias) {
		return xerrors.Errorf("alias namespace (%s) is not a valid namespace name", mapping.Alias)
	}

	if !isValidNamespace(mapping.Source) {
		return xerrors.Errorf("source namespace (%s) is not a valid namespace name", mapping.Source)
	}

	if mapping.Alias == mapping.Source {
		return xerrors.Errorf("namespace %s can't be an alias of itself", mapping.Alias)
	}
	return nil
}

// ValidateAliasMappings validates the alias mappings given
func ValidateAliasMappings(mappings []AliasMapping) error {
	aliasDict := map[string]string{}

	for _, mapping := range mappings {
		err := mapping.Validate()
		if err != nil {
			return xerrors.Errorf("failed to validate alias mapping: %w", err)
		}

		// check alias is used in another mapping
		if _, ok := aliasDict[mapping.Alias]; ok {
			return xerrors.Errorf("alias namespace (%s) is already used in another mapping", mapping.Alias)
		}

		aliasDict[mapping.Alias] = mapping.Source
	}

	// check cycles
	for alias := range aliasDict {
		visited := map[string]bool{alias: true}
		current := alias
		for {
			source, ok := aliasDict[current]
			if !ok {
				break
			}

			if visited[source] {
				return xerrors.Errorf("alias mappings form a cycle through namespace %s", alias)
			}
			visited[source] = true
			current = source
		}
	}
	return nil
}

func isValidNamespace(namespace string) bool {
	if len(namespace) == 0 || namespace == "." || namespace == ".." {
		return false
	}
	return !strings.ContainsAny(namespace, "/\\")
}
