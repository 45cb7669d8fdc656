// Package gazette defines the document model shared across the archiver.
package gazette

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status represents the lifecycle state of a gazette document.
type Status string

// Document status values persisted in the record store.
const (
	StatusFound          Status = "found"
	StatusDownloading    Status = "downloading"
	StatusDownloaded     Status = "downloaded"
	StatusDownloadFailed Status = "download_failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFound, StatusDownloading, StatusDownloaded, StatusDownloadFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusDownloaded || s == StatusDownloadFailed
}

// Candidate is an anchor from the listing page that passed the text and suffix filters.
type Candidate struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	LinkText string `json:"link_text"`
}

// Record is the persisted lifecycle row for one document, keyed by filename.
type Record struct {
	Filename          string     `json:"filename"`
	URL               string     `json:"url"`
	Status            Status     `json:"status"`
	FoundAt           time.Time  `json:"found_at"`
	DownloadStartedAt *time.Time `json:"download_started_at,omitempty"`
	DownloadedAt      *time.Time `json:"downloaded_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StoragePath       string     `json:"storage_path,omitempty"`
	FileSize          int64      `json:"file_size,omitempty"`
}

// NewRecord returns a record in the found state.
func NewRecord(c Candidate, at time.Time) Record {
	return Record{
		Filename: c.Filename,
		URL:      c.URL,
		Status:   StatusFound,
		FoundAt:  at,
	}
}

// Transition describes a status update applied to an existing record.
type Transition struct {
	Status       Status
	At           time.Time
	ErrorMessage string
	StoragePath  string
	FileSize     int64
}

// Downloading stamps the start of a download attempt.
func Downloading(at time.Time) Transition {
	return Transition{Status: StatusDownloading, At: at}
}

// Downloaded marks a successful download.
func Downloaded(at time.Time, storagePath string, size int64) Transition {
	return Transition{Status: StatusDownloaded, At: at, StoragePath: storagePath, FileSize: size}
}

// DownloadFailed marks a failed download with its cause.
func DownloadFailed(at time.Time, cause error) Transition {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Transition{Status: StatusDownloadFailed, At: at, ErrorMessage: msg}
}

// Validate checks that the transition carries the fields its status requires.
func (t Transition) Validate() error {
	switch t.Status {
	case StatusDownloading:
	case StatusDownloaded:
		if t.StoragePath == "" {
			return fmt.Errorf("downloaded transition requires a storage path")
		}
	case StatusDownloadFailed:
		if t.ErrorMessage == "" {
			return fmt.Errorf("download_failed transition requires an error message")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransition, t.Status)
	}
	if t.At.IsZero() {
		return fmt.Errorf("transition timestamp is required")
	}
	return nil
}

// Apply copies the transition onto the record. Fields owned by other states are kept.
func (r *Record) Apply(t Transition) {
	at := t.At
	r.Status = t.Status
	switch t.Status {
	case StatusDownloading:
		r.DownloadStartedAt = &at
	case StatusDownloaded:
		r.DownloadedAt = &at
		r.StoragePath = t.StoragePath
		r.FileSize = t.FileSize
	case StatusDownloadFailed:
		r.FailedAt = &at
		r.ErrorMessage = t.ErrorMessage
	}
}

// RequestKind selects the header profile used for an outbound request.
type RequestKind string

// Request kinds issued by the pipeline.
const (
	RequestListing  RequestKind = "listing"
	RequestDocument RequestKind = "document"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	Timeout     time.Duration
	MaxBodySize int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Stage names the pipeline step a relay message is addressed to.
type Stage string

// Pipeline stages reachable through the relay.
const (
	StageDownload Stage = "download"
	StageProcess  Stage = "process"
)

// Message is a relay notification between pipeline stages.
type Message struct {
	Stage       Stage  `json:"-"`
	Filename    string `json:"filename"`
	URL         string `json:"url,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
}

// Source describes the gazette site and the notice filter applied to its listing.
type Source struct {
	Origin          string
	ListingTemplate string
	Marker          string
	Suffix          string
}

// ListingURL returns the listing page for the given year.
func (s Source) ListingURL(year int) string {
	path := strings.ReplaceAll(s.ListingTemplate, "{year}", fmt.Sprintf("%d", year))
	return strings.TrimRight(s.Origin, "/") + path
}
