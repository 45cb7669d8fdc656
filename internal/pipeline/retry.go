// Package pipeline implements detection, download and page inspection for gazette notices.
package pipeline

import (
	"time"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// RetryPolicy decides whether an already-tracked record may be downloaded again.
// The zero value never retries.
type RetryPolicy struct {
	// RetryFailed makes download_failed records eligible on the next run.
	RetryFailed bool
	// StaleAfter makes found records whose download relay never arrived, and
	// downloading records whose attempt never finished, eligible once they are
	// older than this. Zero disables the check.
	StaleAfter time.Duration
}

// Eligible reports whether rec should be relayed for another download at now.
func (p RetryPolicy) Eligible(rec gazette.Record, now time.Time) bool {
	switch rec.Status {
	case gazette.StatusDownloadFailed:
		return p.RetryFailed
	case gazette.StatusFound:
		return p.stale(&rec.FoundAt, now)
	case gazette.StatusDownloading:
		return p.stale(rec.DownloadStartedAt, now)
	default:
		return false
	}
}

// InProgress reports whether rec holds a download attempt that is still
// considered live at now.
func (p RetryPolicy) InProgress(rec gazette.Record, now time.Time) bool {
	return rec.Status == gazette.StatusDownloading && !p.stale(rec.DownloadStartedAt, now)
}

func (p RetryPolicy) stale(since *time.Time, now time.Time) bool {
	if p.StaleAfter <= 0 || since == nil || since.IsZero() {
		return false
	}
	return now.Sub(*since) >= p.StaleAfter
}
