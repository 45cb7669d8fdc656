package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/gazette-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/headers"
	"github.com/JakeFAU/gazette-archiver/internal/storage/memory"
)

var pdfPayload = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n%%EOF\n")

func newDocumentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/doc1.pdf":
			if r.Header.Get("Accept") != "application/pdf,*/*" || r.Header.Get("Referer") == "" {
				http.Error(w, "bad headers", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(pdfPayload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDownloader(
	store gazette.RecordStore,
	blobs gazette.BlobStore,
	relay gazette.Relay,
	cfg DownloaderConfig,
) *Downloader {
	return NewDownloader(
		cfg,
		collyfetcher.New(collyfetcher.Config{}, nil),
		headers.NewRotating(nil, "https://www.saflii.org/"),
		store,
		blobs,
		relay,
		fixedClock{now: testNow},
		zap.NewNop(),
	)
}

func TestDownloadSuccess(t *testing.T) {
	t.Parallel()

	srv := newDocumentServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	relay := &recordingRelay{}
	c := gazette.Candidate{Filename: "doc1.pdf", URL: srv.URL + "/docs/doc1.pdf"}
	require.NoError(t, store.Insert(ctx, gazette.NewRecord(c, testNow)))

	out, err := newTestDownloader(store, blobs, relay, DownloaderConfig{}).Download(ctx, c)
	require.NoError(t, err)
	require.Equal(t, "2025/doc1.pdf", out.StoragePath)
	require.Equal(t, int64(len(pdfPayload)), out.Size)
	require.Equal(t, "memory://2025/doc1.pdf", out.URI)
	require.Len(t, out.SHA256, 64)

	rec, err := store.FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloaded, rec.Status)
	require.Equal(t, int64(len(pdfPayload)), rec.FileSize)
	require.NotEmpty(t, rec.StoragePath)
	require.NotNil(t, rec.DownloadStartedAt)
	require.NotNil(t, rec.DownloadedAt)

	stored, contentType, ok := blobs.Object("2025/doc1.pdf")
	require.True(t, ok)
	require.True(t, bytes.Equal(pdfPayload, stored))
	require.Equal(t, "application/pdf", contentType)

	require.Len(t, relay.msgs, 1)
	require.Equal(t, gazette.Message{Stage: gazette.StageProcess, Filename: "doc1.pdf", StoragePath: "2025/doc1.pdf"}, relay.msgs[0])
}

func TestDownloadCreatesMissingRecord(t *testing.T) {
	t.Parallel()

	srv := newDocumentServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	c := gazette.Candidate{Filename: "doc1.pdf", URL: srv.URL + "/docs/doc1.pdf"}

	_, err := newTestDownloader(store, memory.NewBlobStore(), nil, DownloaderConfig{}).Download(ctx, c)
	require.NoError(t, err)

	rec, err := store.FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloaded, rec.Status)
	require.Equal(t, testNow, rec.FoundAt)
}

func TestDownloadFetchFailureMarksRecordFailed(t *testing.T) {
	t.Parallel()

	srv := newDocumentServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	relay := &recordingRelay{}
	c := gazette.Candidate{Filename: "gone.pdf", URL: srv.URL + "/docs/gone.pdf"}
	require.NoError(t, store.Insert(ctx, gazette.NewRecord(c, testNow)))

	_, err := newTestDownloader(store, blobs, relay, DownloaderConfig{}).Download(ctx, c)
	require.Error(t, err)
	var statusErr *collyfetcher.StatusError
	require.ErrorAs(t, err, &statusErr)

	rec, err := store.FindByFilename(ctx, "gone.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloadFailed, rec.Status)
	require.NotEmpty(t, rec.ErrorMessage)
	require.NotNil(t, rec.FailedAt)
	require.Zero(t, blobs.Len())
	require.Empty(t, relay.msgs)
}

func TestDownloadRejectsOversizedDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	fetcher := &stubFetcher{body: bytes.Repeat([]byte("x"), 64)}
	d := NewDownloader(DownloaderConfig{MaxBodySize: 32}, fetcher, staticHeaders{}, store, blobs, nil, fixedClock{now: testNow}, nil)

	_, err := d.Download(ctx, gazette.Candidate{Filename: "big.pdf", URL: "https://example.org/big.pdf"})
	require.ErrorContains(t, err, "exceeds 32 bytes")
	require.ErrorIs(t, err, ErrDocumentTooLarge)
	require.Equal(t, 33, fetcher.requests[0].MaxBodySize)
	require.Equal(t, "document", fetcher.requests[0].Headers.Get("X-Kind"))

	rec, err := store.FindByFilename(ctx, "big.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloadFailed, rec.Status)
	require.Zero(t, blobs.Len())
}

func TestDownloadExactSizeFits(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{body: bytes.Repeat([]byte("x"), 32)}
	d := NewDownloader(DownloaderConfig{MaxBodySize: 32}, fetcher, nil, memory.NewRecordStore(), memory.NewBlobStore(), nil, fixedClock{now: testNow}, nil)

	out, err := d.Download(context.Background(), gazette.Candidate{Filename: "fit.pdf", URL: "https://example.org/fit.pdf"})
	require.NoError(t, err)
	require.EqualValues(t, 32, out.Size)
}

func TestDownloadStorageFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		blobs failingBlobs
		want  string
	}{
		{"ensure container", failingBlobs{ensureErr: errors.New("permission denied")}, "ensure container"},
		{"put object", failingBlobs{putErr: errors.New("quota exceeded")}, "quota exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := memory.NewRecordStore()
			d := NewDownloader(DownloaderConfig{}, &stubFetcher{body: pdfPayload}, nil, store, tc.blobs, nil, fixedClock{now: testNow}, nil)

			_, err := d.Download(ctx, gazette.Candidate{Filename: "a.pdf", URL: "https://example.org/a.pdf"})
			require.ErrorContains(t, err, tc.want)

			rec, err := store.FindByFilename(ctx, "a.pdf")
			require.NoError(t, err)
			require.Equal(t, gazette.StatusDownloadFailed, rec.Status)
			require.Contains(t, rec.ErrorMessage, tc.want)
		})
	}
}

func TestDownloadRecordUpdateFailurePropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failingRecords{
		RecordStore: memory.NewRecordStore(),
		updateErr:   map[gazette.Status]error{gazette.StatusDownloaded: errors.New("deadlock detected")},
	}
	d := NewDownloader(DownloaderConfig{}, &stubFetcher{body: pdfPayload}, nil, store, memory.NewBlobStore(), nil, fixedClock{now: testNow}, nil)

	_, err := d.Download(ctx, gazette.Candidate{Filename: "a.pdf", URL: "https://example.org/a.pdf"})
	require.ErrorContains(t, err, "deadlock detected")

	rec, err := store.FindByFilename(ctx, "a.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloadFailed, rec.Status)
}

func TestDownloadValidatesInput(t *testing.T) {
	t.Parallel()

	d := NewDownloader(DownloaderConfig{}, &stubFetcher{}, nil, memory.NewRecordStore(), memory.NewBlobStore(), nil, fixedClock{now: testNow}, nil)
	_, err := d.Download(context.Background(), gazette.Candidate{URL: "https://example.org/a.pdf"})
	require.ErrorIs(t, err, gazette.ErrEmptyFilename)
	_, err = d.Download(context.Background(), gazette.Candidate{Filename: "a.pdf"})
	require.Error(t, err)
}

func TestDownloadSwallowsProcessRelayError(t *testing.T) {
	t.Parallel()

	relay := &recordingRelay{err: errors.New("timeout")}
	d := NewDownloader(DownloaderConfig{}, &stubFetcher{body: pdfPayload}, nil, memory.NewRecordStore(), memory.NewBlobStore(), relay, fixedClock{now: testNow}, nil)

	_, err := d.Download(context.Background(), gazette.Candidate{Filename: "a.pdf", URL: "https://example.org/a.pdf"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.pdf"}, relay.filenames(gazette.StageProcess))
}

func TestDownloadLeavesDownloadedRecordUntouched(t *testing.T) {
	t.Parallel()

	srv := newDocumentServer(t)
	ctx := context.Background()
	store := memory.NewRecordStore()
	blobs := memory.NewBlobStore()
	relay := &recordingRelay{}
	d := newTestDownloader(store, blobs, relay, DownloaderConfig{})

	_, err := d.Download(ctx, gazette.Candidate{Filename: "doc1.pdf", URL: srv.URL + "/docs/doc1.pdf"})
	require.NoError(t, err)
	before, err := store.FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)

	// a redelivered relay pointing at a URL that now 404s
	_, err = d.Download(ctx, gazette.Candidate{Filename: "doc1.pdf", URL: srv.URL + "/docs/gone.pdf"})
	require.ErrorIs(t, err, ErrAlreadyDownloaded)
	require.ErrorIs(t, err, gazette.ErrInvalidTransition)

	after, err := store.FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, gazette.StatusDownloaded, after.Status)
	require.Equal(t, "2025/doc1.pdf", after.StoragePath)
	require.Empty(t, after.ErrorMessage)
	require.Equal(t, 1, blobs.Len())
	require.Len(t, relay.filenames(gazette.StageProcess), 1)
}

func TestDownloadSkipsLiveAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := gazette.Candidate{Filename: "doc1.pdf", URL: "https://example.org/doc1.pdf"}
	policy := RetryPolicy{StaleAfter: time.Hour}

	cases := []struct {
		name      string
		startedAt time.Time
		wantErr   error
		want      gazette.Status
	}{
		{"live attempt", testNow.Add(-5 * time.Minute), ErrDownloadInProgress, gazette.StatusDownloading},
		{"abandoned attempt", testNow.Add(-2 * time.Hour), nil, gazette.StatusDownloaded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := memory.NewRecordStore()
			require.NoError(t, store.Insert(ctx, gazette.NewRecord(c, testNow.Add(-3*time.Hour))))
			require.NoError(t, store.UpdateStatus(ctx, c.Filename, gazette.Downloading(tc.startedAt)))
			fetcher := &stubFetcher{body: pdfPayload}
			d := NewDownloader(DownloaderConfig{Retry: policy}, fetcher, nil, store, memory.NewBlobStore(), nil, fixedClock{now: testNow}, nil)

			_, err := d.Download(ctx, c)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Empty(t, fetcher.requests)
			} else {
				require.NoError(t, err)
			}

			rec, err := store.FindByFilename(ctx, c.Filename)
			require.NoError(t, err)
			require.Equal(t, tc.want, rec.Status)
		})
	}
}

func TestDownloadRetriesFailedRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewRecordStore()
	c := gazette.Candidate{Filename: "doc1.pdf", URL: "https://example.org/doc1.pdf"}
	require.NoError(t, store.Insert(ctx, gazette.NewRecord(c, testNow)))
	require.NoError(t, store.UpdateStatus(ctx, c.Filename, gazette.DownloadFailed(testNow, errors.New("HTTP 503"))))
	d := NewDownloader(DownloaderConfig{}, &stubFetcher{body: pdfPayload}, nil, store, memory.NewBlobStore(), nil, fixedClock{now: testNow}, nil)

	_, err := d.Download(ctx, c)
	require.NoError(t, err)
	rec, err := store.FindByFilename(ctx, c.Filename)
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloaded, rec.Status)
}
