package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"
)

func TestErrors(t *testing.T) {
	t.Run("test WrappedKinds", testWrappedKinds)
	t.Run("test InsufficientSpaceMessage", testInsufficientSpaceMessage)
	t.Run("test FileFormat", testFileFormat)
}

func testWrappedKinds(t *testing.T) {
	cause := errors.New("connection refused")
	unreachable := xerrors.Errorf("failed to stat: %w", NewUnreachableError("/mnt/psx/a.cue", cause))

	assert.True(t, IsUnreachableError(unreachable))
	assert.False(t, IsAssetRemovedError(unreachable))
	assert.True(t, errors.Is(unreachable, cause))

	removed := xerrors.Errorf("failed to fetch: %w", NewAssetRemovedError("/mnt/psx/a.cue"))
	assert.True(t, IsAssetRemovedError(removed))
	assert.False(t, IsUnreachableError(removed))

	failed := NewDownloadFailedError("/roms/psx/a.cue", "a.bin", nil, cause)
	assert.True(t, IsDownloadFailedError(failed))
	assert.True(t, errors.Is(failed, cause))

	var spaceErr *InsufficientSpaceError
	assert.True(t, errors.As(xerrors.Errorf("wrap: %w", NewInsufficientSpaceError("a", 10, 5)), &spaceErr))
	assert.Equal(t, int64(10), spaceErr.Required)
	assert.Equal(t, int64(5), spaceErr.Available)
}

func testInsufficientSpaceMessage(t *testing.T) {
	err := NewInsufficientSpaceError("/roms/ps2/game.iso", 2*1024*1024*1024, 1024*1024*1024)
	assert.Contains(t, err.Error(), "2.0 GiB required")
	assert.Contains(t, err.Error(), "1.0 GiB available")
}

func testFileFormat(t *testing.T) {
	assert.Equal(t, FormatManifest, GetFileFormat("Game (Disc 1).M3U"))
	assert.Equal(t, FormatCueSheet, GetFileFormat("/roms/psx/game.cue"))
	assert.Equal(t, FormatGDI, GetFileFormat("game.gdi"))
	assert.Equal(t, FormatSingle, GetFileFormat("game.chd"))
	assert.False(t, FormatSingle.HasCompanions())
	assert.True(t, FormatCueSheet.HasCompanions())
}
