package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

type recordingRelay struct {
	mu   sync.Mutex
	msgs []gazette.Message
	err  error
}

func (r *recordingRelay) Dispatch(_ context.Context, msg gazette.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingRelay) filenames(stage gazette.Stage) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, m := range r.msgs {
		if m.Stage == stage {
			out = append(out, m.Filename)
		}
	}
	return out
}

type stubFetcher struct {
	mu       sync.Mutex
	body     []byte
	status   int
	err      error
	requests []gazette.FetchRequest
}

func (f *stubFetcher) Fetch(_ context.Context, req gazette.FetchRequest) (gazette.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return gazette.FetchResponse{}, f.err
	}
	body := f.body
	if req.MaxBodySize > 0 && len(body) > req.MaxBodySize {
		body = body[:req.MaxBodySize]
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return gazette.FetchResponse{URL: req.URL, StatusCode: status, Body: body}, nil
}

type staticHeaders struct{}

func (staticHeaders) Headers(kind gazette.RequestKind) http.Header {
	return http.Header{"X-Kind": {string(kind)}}
}

// failingRecords wraps a store and fails selected operations.
type failingRecords struct {
	gazette.RecordStore
	findErr error
	// findErrFor fails lookups of specific filenames only.
	findErrFor map[string]error
	insertErr  error
	updateErr  map[gazette.Status]error
}

func (f *failingRecords) FindByFilename(ctx context.Context, filename string) (gazette.Record, error) {
	if f.findErr != nil {
		return gazette.Record{}, f.findErr
	}
	if err := f.findErrFor[filename]; err != nil {
		return gazette.Record{}, err
	}
	return f.RecordStore.FindByFilename(ctx, filename)
}

func (f *failingRecords) Insert(ctx context.Context, record gazette.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.RecordStore.Insert(ctx, record)
}

func (f *failingRecords) UpdateStatus(ctx context.Context, filename string, t gazette.Transition) error {
	if err := f.updateErr[t.Status]; err != nil {
		return err
	}
	return f.RecordStore.UpdateStatus(ctx, filename, t)
}

type failingBlobs struct {
	ensureErr error
	putErr    error
}

func (f failingBlobs) EnsureContainer(context.Context) error { return f.ensureErr }

func (f failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return "", errors.New("unexpected put")
}
