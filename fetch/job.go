package fetch

import (
	"fmt"
	"time"

	"github.com/deckdock/romcache/companion"
	"github.com/rs/xid"
)

const (
	// TempSuffix is appended to in-flight files in the destination directory
	TempSuffix string = ".romcache-part"
)

// FileTransfer is one member of a download job
type FileTransfer struct {
	// SourcePath is the backing store path
	SourcePath string
	// TempPath is where bytes land during transfer
	TempPath string
	// FinalPath is where the file is committed
	FinalPath string
	Size      int64
	Done      bool
}

// DownloadJob is a single fetch in flight
type DownloadJob struct {
	ID string
	// RequestPath is the path the caller asked for
	RequestPath string
	// Link is the presence link replaced by the primary
	Link        string
	BackingPath string
	Set         companion.CompanionSet
	Files       []*FileTransfer
	TotalBytes  int64
	StartTime   time.Time
}

// NewDownloadJob creates a new DownloadJob
func NewDownloadJob(requestPath string, link string, backingPath string, set companion.CompanionSet) *DownloadJob {
	return &DownloadJob{
		ID:          xid.New().String(),
		RequestPath: requestPath,
		Link:        link,
		BackingPath: backingPath,
		Set:         set,
		Files:       []*FileTransfer{},
		StartTime:   time.Now(),
	}
}

// GetTempPaths returns temp paths of all files
func (job *DownloadJob) GetTempPaths() []string {
	paths := make([]string, 0, len(job.Files))
	for _, file := range job.Files {
		paths = append(paths, file.TempPath)
	}
	return paths
}

// ToString stringifies the object
func (job *DownloadJob) ToString() string {
	return fmt.Sprintf("<DownloadJob %s %s %d files %d bytes>", job.ID, job.Link, len(job.Files), job.TotalBytes)
}
