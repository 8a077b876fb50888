package main

import (
	"errors"
	"testing"
	"time"

	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"
)

func TestCommands(t *testing.T) {
	t.Run("test ExitCodes", testExitCodes)
	t.Run("test UserMessages", testUserMessages)
	t.Run("test BuildLaunchArgs", testBuildLaunchArgs)
	t.Run("test Dispatch", testDispatch)
}

func testExitCodes(t *testing.T) {
	assert.Equal(t, ExitOK, exitCodeOf(nil))
	assert.Equal(t, ExitBusy, exitCodeOf(types.NewBusyError("/tmp/romcache.lock", 42, "")))
	assert.Equal(t, ExitUnreachable, exitCodeOf(xerrors.Errorf("failed to classify: %w", types.NewUnreachableError("/nas/psx/game.chd", errors.New("no route to host")))))
	assert.Equal(t, ExitAssetRemoved, exitCodeOf(types.NewAssetRemovedError("/roms/psx/game.chd")))
	assert.Equal(t, ExitInsufficientSpace, exitCodeOf(types.NewInsufficientSpaceError("/roms/psx/game.chd", 10, 5)))
	assert.Equal(t, ExitEvictionPartial, exitCodeOf(types.NewEvictionPartialError([]string{"a"}, 2)))
	assert.Equal(t, ExitOther, exitCodeOf(errors.New("boom")))

	// a failed transfer wrapping an unreachable error is a download failure
	unreachable := types.NewUnreachableError("/nas/psx/game.chd", errors.New("connection reset"))
	assert.Equal(t, ExitDownloadFailed, exitCodeOf(types.NewDownloadFailedError("/roms/psx/game.chd", "/nas/psx/game.chd", nil, unreachable)))
}

func testUserMessages(t *testing.T) {
	removed := userMessage(types.NewAssetRemovedError("/roms/psx/game.chd"))
	unreachable := userMessage(types.NewUnreachableError("/nas/psx/game.chd", errors.New("timeout")))
	assert.NotEqual(t, removed, unreachable)
	assert.Contains(t, unreachable, "unreachable")
	assert.Contains(t, removed, "removed")

	space := userMessage(types.NewInsufficientSpaceError("/roms/psx/game.chd", 2048, 1024))
	assert.Contains(t, space, "2.0 KiB")
	assert.Contains(t, space, "1.0 KiB")

	since := utils.MakeTimeToString(time.Now().Add(-90 * time.Second))
	busy := userMessage(types.NewBusyError("/tmp/romcache.lock", 42, since))
	assert.Contains(t, busy, "1m3")
	assert.Contains(t, userMessage(types.NewBusyError("/tmp/romcache.lock", 0, "")), "Another game is downloading")
}

func testBuildLaunchArgs(t *testing.T) {
	assert.Equal(t, []string{"retroarch", "-L", "core.so", "/roms/psx/game.cue"}, buildLaunchArgs([]string{"retroarch", "-L", "core.so"}, "/roms/psx/game.cue"))
	assert.Equal(t, []string{"duckstation", "-batch", "/roms/psx/game.cue", "-fullscreen"}, buildLaunchArgs([]string{"duckstation", "-batch", "%ROM%", "-fullscreen"}, "/roms/psx/game.cue"))
}

func testDispatch(t *testing.T) {
	var gotArgs, gotExtra []string
	root := &Command{
		Name: "romcache",
		Subcommands: []*Command{
			{
				Name: "launch",
				Run: func(args []string, extra []string) error {
					gotArgs = args
					gotExtra = extra
					return nil
				},
			},
		},
	}

	assert.NoError(t, root.Execute([]string{"launch", "game.cue"}))
	assert.Equal(t, []string{"game.cue"}, gotArgs)
	assert.Empty(t, gotExtra)

	assert.Error(t, root.Execute([]string{"unknown"}))
	assert.Error(t, root.Execute([]string{}))
}
