package evict

import (
	"fmt"
	"strings"

	"github.com/deckdock/romcache/types"
)

// CacheCandidate is a cached file whose counterpart exists on the backing store
type CacheCandidate struct {
	Namespace string `json:"namespace"`
	// Path is the local path of the primary file
	Path string `json:"path"`
	// RelPath is relative to the namespace directory, in slash form
	RelPath     string `json:"rel_path"`
	BackingPath string `json:"backing_path"`
	// Size counts the primary and its cached companions
	Size       int64    `json:"size"`
	Companions []string `json:"companions,omitempty"`
}

// ToString stringifies the object
func (candidate *CacheCandidate) ToString() string {
	return fmt.Sprintf("<CacheCandidate %s %s %d>", candidate.Namespace, candidate.RelPath, candidate.Size)
}

// CandidateFailure records a candidate that could not be evicted
type CandidateFailure struct {
	Candidate CacheCandidate
	Err       error
}

// EvictionResult is the outcome of an eviction batch
type EvictionResult struct {
	Evicted    []CacheCandidate
	Failed     []CandidateFailure
	FreedBytes int64
	// RestoredLinks lists links created
	RestoredLinks []string
}

// NewEvictionResult creates an empty EvictionResult
func NewEvictionResult() *EvictionResult {
	return &EvictionResult{
		Evicted:       []CacheCandidate{},
		Failed:        []CandidateFailure{},
		RestoredLinks: []string{},
	}
}

// GetTotal returns the number of candidates processed
func (result *EvictionResult) GetTotal() int {
	return len(result.Evicted) + len(result.Failed)
}

// Err returns EvictionPartialError when any candidate failed
func (result *EvictionResult) Err() error {
	if len(result.Failed) == 0 {
		return nil
	}

	failed := make([]string, 0, len(result.Failed))
	for _, failure := range result.Failed {
		failed = append(failed, failure.Candidate.Path)
	}
	return types.NewEvictionPartialError(failed, result.GetTotal())
}

// ToString stringifies the object
func (result *EvictionResult) ToString() string {
	failed := []string{}
	for _, failure := range result.Failed {
		failed = append(failed, failure.Candidate.RelPath)
	}
	return fmt.Sprintf("<EvictionResult evicted %d freed %d failed [%s]>", len(result.Evicted), result.FreedBytes, strings.Join(failed, ", "))
}
