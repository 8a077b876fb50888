package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	"github.com/dustin/go-humanize"
)

// Exit codes
const (
	ExitOK                int = 0
	ExitOther             int = 1
	ExitBusy              int = 2
	ExitUnreachable       int = 3
	ExitAssetRemoved      int = 4
	ExitInsufficientSpace int = 5
	ExitDownloadFailed    int = 6
	ExitEvictionPartial   int = 7
)

// exitCodeOf maps an error to the process exit code.
// A failed transfer may wrap an unreachable error, so it is checked first.
func exitCodeOf(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case types.IsBusyError(err):
		return ExitBusy
	case types.IsDownloadFailedError(err):
		return ExitDownloadFailed
	case types.IsAssetRemovedError(err):
		return ExitAssetRemoved
	case types.IsCompanionMissingError(err):
		return ExitAssetRemoved
	case types.IsUnreachableError(err):
		return ExitUnreachable
	case types.IsInsufficientSpaceError(err):
		return ExitInsufficientSpace
	case types.IsEvictionPartialError(err):
		return ExitEvictionPartial
	default:
		return ExitOther
	}
}

// userMessage renders an error for a person holding a game controller
func userMessage(err error) string {
	var busyErr *types.BusyError
	var spaceErr *types.InsufficientSpaceError
	var missingErr *types.CompanionMissingError

	switch {
	case errors.As(err, &busyErr):
		elapsed := utils.GetElapsedSince(busyErr.Since, time.Now())
		if elapsed > 0 {
			return fmt.Sprintf("Another game has been downloading for %s. Try again when it finishes.", elapsed)
		}
		return "Another game is downloading. Try again when it finishes."
	case types.IsDownloadFailedError(err):
		return "Download failed. Nothing was changed, try again."
	case types.IsAssetRemovedError(err):
		return "This game was removed from the library."
	case errors.As(err, &missingErr):
		return "This game is incomplete on the library server: " + missingErr.Companion + " is missing."
	case types.IsUnreachableError(err):
		return "The library server is unreachable. Connect to your home network and try again."
	case errors.As(err, &spaceErr):
		return "Not enough free space: " + humanize.IBytes(uint64(spaceErr.Required)) + " needed, " + humanize.IBytes(uint64(spaceErr.Available)) + " available."
	case types.IsEvictionPartialError(err):
		return "Some games could not be removed. See the log for details."
	default:
		return err.Error()
	}
}
