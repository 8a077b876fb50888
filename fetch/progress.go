package fetch

import (
	"context"
	"os"
	"time"

	"github.com/deckdock/romcache/report"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval is the default interval of progress sampling
	DefaultPollInterval time.Duration = 500 * time.Millisecond
)

// pollProgress samples the size of the in-flight file and reports it until ctx is done
func pollProgress(ctx context.Context, reporter report.ProgressReporter, tempPath string, totalSize int64, interval time.Duration) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"function": "pollProgress",
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastPercent := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := os.Stat(tempPath)
			if err != nil {
				// not created yet
				continue
			}

			percent := utils.GetPercent(st.Size(), totalSize)
			if percent == lastPercent {
				continue
			}
			lastPercent = percent

			err = reporter.Progress(percent)
			if err != nil {
				logger.WithError(err).Debug("failed to report progress")
			}
		}
	}
}
