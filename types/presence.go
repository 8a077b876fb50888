package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PresenceState determines whether a catalog path is cached locally or stands in for a backing store file
type PresenceState string

const (
	// PresenceLocal is for a regular file, fully cached
	PresenceLocal PresenceState = "local"
	// PresenceRemote is for a link whose target exists on the backing store
	PresenceRemote PresenceState = "remote"
	// PresenceOrphaned is for a link whose target no longer exists
	PresenceOrphaned PresenceState = "orphaned"
)

// String returns the string representation of a PresenceState.
func (s PresenceState) String() string {
	return string(s)
}

// MarshalJSON returns the JSON representation of a PresenceState.
func (s PresenceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON converts the JSON representation of a PresenceState to the appropriate enumeration constant.
func (s *PresenceState) UnmarshalJSON(b []byte) error {
	var str string
	err := json.Unmarshal(b, &str)
	if err != nil {
		return err
	}

	switch strings.ToLower(str) {
	case string(PresenceLocal):
		*s = PresenceLocal
	case string(PresenceRemote):
		*s = PresenceRemote
	case string(PresenceOrphaned):
		*s = PresenceOrphaned
	default:
		return fmt.Errorf("invalid presence state: %s", str)
	}

	return nil
}

// FileFormat determines how the companion files of a catalog entry are found
type FileFormat string

const (
	// FormatSingle is for a self-contained file
	FormatSingle FileFormat = "single"
	// FormatManifest is for a disc list (m3u), one filename per line
	FormatManifest FileFormat = "manifest"
	// FormatCueSheet is for a cue sheet naming its data files with FILE directives
	FormatCueSheet FileFormat = "cue"
	// FormatGDI is for a GD-ROM track list
	FormatGDI FileFormat = "gdi"
)

// String returns the string representation of a FileFormat.
func (f FileFormat) String() string {
	return string(f)
}

// HasCompanions returns true if files of the format reference other files
func (f FileFormat) HasCompanions() bool {
	return f != FormatSingle
}

// GetFileFormat infers the format from the file extension
func GetFileFormat(p string) FileFormat {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".m3u"), strings.HasSuffix(lower, ".m3u8"):
		return FormatManifest
	case strings.HasSuffix(lower, ".cue"):
		return FormatCueSheet
	case strings.HasSuffix(lower, ".gdi"):
		return FormatGDI
	default:
		return FormatSingle
	}
}
