package gazette

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a filename.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when inserting a filename that is already tracked.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrEmptyFilename is returned when a record operation receives no key.
	ErrEmptyFilename = errors.New("filename is required")
	// ErrInvalidTransition is returned for status updates the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RecordStore persists document records keyed by filename.
type RecordStore interface {
	FindByFilename(ctx context.Context, filename string) (Record, error)
	Insert(ctx context.Context, record Record) error
	UpdateStatus(ctx context.Context, filename string, t Transition) error
	List(ctx context.Context, status Status) ([]Record, error)
}

// BlobStore writes downloaded payloads and returns a URI.
type BlobStore interface {
	EnsureContainer(ctx context.Context) error
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeaderSource supplies request headers for an outbound request.
type HeaderSource interface {
	Headers(kind RequestKind) http.Header
}

// Relay forwards a message to the next pipeline stage.
type Relay interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
