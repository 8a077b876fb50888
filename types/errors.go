package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrAssetRemoved is matched by AssetRemovedError
	ErrAssetRemoved = errors.New("asset removed from backing store")
	// ErrUnreachable is matched by UnreachableError
	ErrUnreachable = errors.New("backing store unreachable")
	// ErrBusy is matched by BusyError
	ErrBusy = errors.New("another download is in progress")
	// ErrInsufficientSpace is matched by InsufficientSpaceError
	ErrInsufficientSpace = errors.New("insufficient local space")
	// ErrCompanionMissing is matched by CompanionMissingError
	ErrCompanionMissing = errors.New("companion file missing on backing store")
	// ErrDownloadFailed is matched by DownloadFailedError
	ErrDownloadFailed = errors.New("download failed")
	// ErrEvictionPartial is matched by EvictionPartialError
	ErrEvictionPartial = errors.New("eviction partially failed")
	// ErrAliasChain is matched by AliasChainError
	ErrAliasChain = errors.New("alias chain not resolvable")
	// ErrNotCached is matched by NotCachedError
	ErrNotCached = errors.New("entry is not cached locally")
)

// AssetRemovedError is an error for a backing store source that is gone. Not retried.
type AssetRemovedError struct {
	Path string
}

// NewAssetRemovedError creates AssetRemovedError
func NewAssetRemovedError(p string) error {
	return &AssetRemovedError{
		Path: p,
	}
}

// Error returns error message
func (err *AssetRemovedError) Error() string {
	return fmt.Sprintf("asset removed from backing store: %s", err.Path)
}

// Is tests type of error
func (err *AssetRemovedError) Is(other error) bool {
	return other == ErrAssetRemoved
}

// IsAssetRemovedError evaluates if the given error is AssetRemovedError
func IsAssetRemovedError(err error) bool {
	return errors.Is(err, ErrAssetRemoved)
}

// UnreachableError is an error for a backing store that can't be contacted. Safe to retry later.
type UnreachableError struct {
	Path string
	Err  error
}

// NewUnreachableError creates UnreachableError
func NewUnreachableError(p string, err error) error {
	return &UnreachableError{
		Path: p,
		Err:  err,
	}
}

// Error returns error message
func (err *UnreachableError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("backing store unreachable while accessing %s", err.Path)
	}
	return fmt.Sprintf("backing store unreachable while accessing %s: %v", err.Path, err.Err)
}

// Is tests type of error
func (err *UnreachableError) Is(other error) bool {
	return other == ErrUnreachable
}

// Unwrap unwraps error
func (err *UnreachableError) Unwrap() error {
	return err.Err
}

// IsUnreachableError evaluates if the given error is UnreachableError
func IsUnreachableError(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// BusyError is an error for a contended download lock
type BusyError struct {
	LockPath  string
	HolderPID int
	Since     string
}

// NewBusyError creates BusyError
func NewBusyError(lockPath string, holderPID int, since string) error {
	return &BusyError{
		LockPath:  lockPath,
		HolderPID: holderPID,
		Since:     since,
	}
}

// Error returns error message
func (err *BusyError) Error() string {
	if err.HolderPID > 0 {
		return fmt.Sprintf("another download is in progress (lock %s held by pid %d since %s)", err.LockPath, err.HolderPID, err.Since)
	}
	return fmt.Sprintf("another download is in progress (lock %s)", err.LockPath)
}

// Is tests type of error
func (err *BusyError) Is(other error) bool {
	return other == ErrBusy
}

// IsBusyError evaluates if the given error is BusyError
func IsBusyError(err error) bool {
	return errors.Is(err, ErrBusy)
}

// InsufficientSpaceError is an error for a fetch rejected by admission control. No bytes were transferred.
type InsufficientSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

// NewInsufficientSpaceError creates InsufficientSpaceError
func NewInsufficientSpaceError(p string, required int64, available int64) error {
	return &InsufficientSpaceError{
		Path:      p,
		Required:  required,
		Available: available,
	}
}

// Error returns error message
func (err *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space to download %s: %s required, %s available", err.Path, humanize.IBytes(uint64(err.Required)), humanize.IBytes(uint64(maxInt64(err.Available, 0))))
}

// Is tests type of error
func (err *InsufficientSpaceError) Is(other error) bool {
	return other == ErrInsufficientSpace
}

// IsInsufficientSpaceError evaluates if the given error is InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	return errors.Is(err, ErrInsufficientSpace)
}

// CompanionMissingError is an error for a referenced companion file absent from the backing store
type CompanionMissingError struct {
	Primary   string
	Companion string
}

// NewCompanionMissingError creates CompanionMissingError
func NewCompanionMissingError(primary string, companion string) error {
	return &CompanionMissingError{
		Primary:   primary,
		Companion: companion,
	}
}

// Error returns error message
func (err *CompanionMissingError) Error() string {
	return fmt.Sprintf("companion file %s of %s is missing on backing store", err.Companion, err.Primary)
}

// Is tests type of error
func (err *CompanionMissingError) Is(other error) bool {
	return other == ErrCompanionMissing
}

// IsCompanionMissingError evaluates if the given error is CompanionMissingError
func IsCompanionMissingError(err error) bool {
	return errors.Is(err, ErrCompanionMissing)
}

// DownloadFailedError is an error for a transfer that failed midway.
// Materialized lists files committed before the failure.
type DownloadFailedError struct {
	Path         string
	File         string
	Materialized []string
	Err          error
}

// NewDownloadFailedError creates DownloadFailedError
func NewDownloadFailedError(p string, file string, materialized []string, err error) error {
	return &DownloadFailedError{
		Path:         p,
		File:         file,
		Materialized: materialized,
		Err:          err,
	}
}

// Error returns error message
func (err *DownloadFailedError) Error() string {
	return fmt.Sprintf("download of %s failed at %s: %v", err.Path, err.File, err.Err)
}

// Is tests type of error
func (err *DownloadFailedError) Is(other error) bool {
	return other == ErrDownloadFailed
}

// Unwrap unwraps error
func (err *DownloadFailedError) Unwrap() error {
	return err.Err
}

// IsDownloadFailedError evaluates if the given error is DownloadFailedError
func IsDownloadFailedError(err error) bool {
	return errors.Is(err, ErrDownloadFailed)
}

// EvictionPartialError is an error for an eviction batch where some candidates failed
type EvictionPartialError struct {
	Failed []string
	Total  int
}

// NewEvictionPartialError creates EvictionPartialError
func NewEvictionPartialError(failed []string, total int) error {
	return &EvictionPartialError{
		Failed: failed,
		Total:  total,
	}
}

// Error returns error message
func (err *EvictionPartialError) Error() string {
	return fmt.Sprintf("failed to evict %d of %d entries: %s", len(err.Failed), err.Total, strings.Join(err.Failed, ", "))
}

// Is tests type of error
func (err *EvictionPartialError) Is(other error) bool {
	return other == ErrEvictionPartial
}

// IsEvictionPartialError evaluates if the given error is EvictionPartialError
func IsEvictionPartialError(err error) bool {
	return errors.Is(err, ErrEvictionPartial)
}

// AliasChainError is an error for a link chain that does not end in the backing store within the depth limit
type AliasChainError struct {
	Path   string
	Depth  int
	Reason string
}

// NewAliasChainError creates AliasChainError
func NewAliasChainError(p string, depth int, reason string) error {
	return &AliasChainError{
		Path:   p,
		Depth:  depth,
		Reason: reason,
	}
}

// Error returns error message
func (err *AliasChainError) Error() string {
	return fmt.Sprintf("failed to resolve alias chain of %s after %d links: %s", err.Path, err.Depth, err.Reason)
}

// Is tests type of error
func (err *AliasChainError) Is(other error) bool {
	return other == ErrAliasChain
}

// IsAliasChainError evaluates if the given error is AliasChainError
func IsAliasChainError(err error) bool {
	return errors.Is(err, ErrAliasChain)
}

// NotCachedError is an error for evicting a path that is not a regular file
type NotCachedError struct {
	Path string
}

// NewNotCachedError creates NotCachedError
func NewNotCachedError(p string) error {
	return &NotCachedError{
		Path: p,
	}
}

// Error returns error message
func (err *NotCachedError) Error() string {
	return fmt.Sprintf("entry is not cached locally: %s", err.Path)
}

// Is tests type of error
func (err *NotCachedError) Is(other error) bool {
	return other == ErrNotCached
}

// IsNotCachedError evaluates if the given error is NotCachedError
func IsNotCachedError(err error) bool {
	return errors.Is(err, ErrNotCached)
}

func maxInt64(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
