package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/hash/sha256"
	"github.com/JakeFAU/gazette-archiver/internal/metrics"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	// DefaultMaxDocumentSize caps a single stored document at 50 MB.
	DefaultMaxDocumentSize = 50 << 20
	defaultContentType     = "application/pdf"
)

var (
	// ErrDocumentTooLarge is returned when a fetched document exceeds the size cap.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrAlreadyDownloaded is returned for a record that is already downloaded.
	ErrAlreadyDownloaded = fmt.Errorf("%w: document already downloaded", gazette.ErrInvalidTransition)
	// ErrDownloadInProgress is returned while another attempt on the record is live.
	ErrDownloadInProgress = fmt.Errorf("%w: download already in progress", gazette.ErrInvalidTransition)
)

// DownloaderConfig controls document fetches and uploads.
type DownloaderConfig struct {
	Timeout     time.Duration
	MaxBodySize int
	ContentType string
	// Retry decides when a downloading record counts as abandoned and may be
	// attempted again.
	Retry RetryPolicy
}

// Downloader fetches one document, stores it and tracks the record lifecycle.
type Downloader struct {
	cfg     DownloaderConfig
	fetcher gazette.Fetcher
	headers gazette.HeaderSource
	store   gazette.RecordStore
	blobs   gazette.BlobStore
	relay   gazette.Relay
	clock   gazette.Clock
	logger  *zap.Logger
}

// Outcome describes a stored document.
type Outcome struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path"`
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

// NewDownloader constructs a Downloader.
func NewDownloader(
	cfg DownloaderConfig,
	fetcher gazette.Fetcher,
	headers gazette.HeaderSource,
	store gazette.RecordStore,
	blobs gazette.BlobStore,
	relay gazette.Relay,
	clock gazette.Clock,
	logger *zap.Logger,
) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDownloadTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxDocumentSize
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:     cfg,
		fetcher: fetcher,
		headers: headers,
		store:   store,
		blobs:   blobs,
		relay:   relay,
		clock:   clock,
		logger:  logger.Named("downloader"),
	}
}

// StoragePath returns the blob key for filename in the given year.
func StoragePath(year int, filename string) string {
	return fmt.Sprintf("%d/%s", year, filename)
}

// Download moves the record for c through downloading to downloaded or
// download_failed. A record is created first when c was never detected.
// Any fetch or storage failure is recorded on the record and returned.
// Downloaded records and live attempts are left untouched and reported with
// ErrAlreadyDownloaded or ErrDownloadInProgress.
func (d *Downloader) Download(ctx context.Context, c gazette.Candidate) (Outcome, error) {
	if c.Filename == "" {
		return Outcome{}, gazette.ErrEmptyFilename
	}
	if c.URL == "" {
		return Outcome{}, fmt.Errorf("url is required for %s", c.Filename)
	}
	logger := d.logger.With(zap.String("filename", c.Filename), zap.String("url", c.URL))

	if err := d.ensureRecord(ctx, c); err != nil {
		return Outcome{}, err
	}
	if err := d.store.UpdateStatus(ctx, c.Filename, gazette.Downloading(d.clock.Now())); err != nil {
		return Outcome{}, fmt.Errorf("mark downloading: %w", err)
	}

	out, err := d.fetchAndStore(ctx, c)
	if err != nil {
		metrics.ObserveDownload(string(gazette.StatusDownloadFailed), 0)
		logger.Warn("download failed", zap.Error(err))
		return Outcome{}, d.fail(ctx, c.Filename, err)
	}

	done := gazette.Downloaded(d.clock.Now(), out.StoragePath, out.Size)
	if err := d.store.UpdateStatus(ctx, c.Filename, done); err != nil {
		metrics.ObserveDownload(string(gazette.StatusDownloadFailed), 0)
		return Outcome{}, d.fail(ctx, c.Filename, fmt.Errorf("mark downloaded: %w", err))
	}
	metrics.ObserveDownload(string(gazette.StatusDownloaded), out.Size)
	logger.Info("document stored",
		zap.String("storage_path", out.StoragePath),
		zap.Int64("size", out.Size),
		zap.String("sha256", out.SHA256),
	)

	if d.relay != nil {
		msg := gazette.Message{Stage: gazette.StageProcess, Filename: c.Filename, StoragePath: out.StoragePath}
		if err := d.relay.Dispatch(ctx, msg); err != nil {
			logger.Warn("process relay failed", zap.Error(err))
		}
	}
	return out, nil
}

func (d *Downloader) ensureRecord(ctx context.Context, c gazette.Candidate) error {
	rec, err := d.store.FindByFilename(ctx, c.Filename)
	if err == nil {
		switch {
		case rec.Status == gazette.StatusDownloaded:
			return fmt.Errorf("%s: %w", c.Filename, ErrAlreadyDownloaded)
		case d.cfg.Retry.InProgress(rec, d.clock.Now()):
			return fmt.Errorf("%s: %w", c.Filename, ErrDownloadInProgress)
		}
		return nil
	}
	if !errors.Is(err, gazette.ErrNotFound) {
		return fmt.Errorf("lookup %s: %w", c.Filename, err)
	}
	err = d.store.Insert(ctx, gazette.NewRecord(c, d.clock.Now()))
	if err != nil && !errors.Is(err, gazette.ErrAlreadyExists) {
		return fmt.Errorf("insert %s: %w", c.Filename, err)
	}
	return nil
}

func (d *Downloader) fetchAndStore(ctx context.Context, c gazette.Candidate) (Outcome, error) {
	var hdr http.Header
	if d.headers != nil {
		hdr = d.headers.Headers(gazette.RequestDocument)
	}
	resp, err := d.fetcher.Fetch(ctx, gazette.FetchRequest{
		URL:     c.URL,
		Headers: hdr,
		Timeout: d.cfg.Timeout,
		// one byte over the cap lets an oversized body be told apart from an exact fit
		MaxBodySize: d.cfg.MaxBodySize + 1,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch %s: %w", c.URL, err)
	}
	if len(resp.Body) > d.cfg.MaxBodySize {
		return Outcome{}, fmt.Errorf("%w: document exceeds %d bytes", ErrDocumentTooLarge, d.cfg.MaxBodySize)
	}

	if err := d.blobs.EnsureContainer(ctx); err != nil {
		return Outcome{}, fmt.Errorf("ensure container: %w", err)
	}
	path := StoragePath(d.clock.Now().Year(), c.Filename)
	uri, err := d.blobs.PutObject(ctx, path, d.cfg.ContentType, resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("store %s: %w", path, err)
	}
	return Outcome{
		Filename:    c.Filename,
		StoragePath: path,
		URI:         uri,
		Size:        int64(len(resp.Body)),
		SHA256:      sha256.Sum(resp.Body),
	}, nil
}

// fail records cause on the record and returns it, joined with any update error.
func (d *Downloader) fail(ctx context.Context, filename string, cause error) error {
	if err := d.store.UpdateStatus(ctx, filename, gazette.DownloadFailed(d.clock.Now(), cause)); err != nil {
		d.logger.Error("mark download_failed", zap.String("filename", filename), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("mark download_failed: %w", err))
	}
	return cause
}
