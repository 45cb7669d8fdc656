package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/metrics"
)

const defaultListingTimeout = 30 * time.Second

// DetectorConfig controls listing fetches and re-attempts.
type DetectorConfig struct {
	Source         gazette.Source
	ListingTimeout time.Duration
	Retry          RetryPolicy
}

// Detector finds new notices on the listing page and hands them to the download stage.
type Detector struct {
	cfg     DetectorConfig
	fetcher gazette.Fetcher
	headers gazette.HeaderSource
	store   gazette.RecordStore
	relay   gazette.Relay
	clock   gazette.Clock
	logger  *zap.Logger
}

// Result summarises one detection run.
type Result struct {
	ListingURL string              `json:"listing_url"`
	Candidates []gazette.Candidate `json:"candidates"`
	Partitioned
}

// CheckedCandidate is a candidate annotated with its novelty, as reported by Check.
type CheckedCandidate struct {
	gazette.Candidate
	IsNew bool `json:"is_new"`
}

// CheckResult is the read-only view returned by Check.
type CheckResult struct {
	ListingURL string             `json:"listing_url"`
	All        []CheckedCandidate `json:"all"`
	New        []CheckedCandidate `json:"new"`
}

// NewDetector constructs a Detector.
func NewDetector(
	cfg DetectorConfig,
	fetcher gazette.Fetcher,
	headers gazette.HeaderSource,
	store gazette.RecordStore,
	relay gazette.Relay,
	clock gazette.Clock,
	logger *zap.Logger,
) *Detector {
	if cfg.ListingTimeout <= 0 {
		cfg.ListingTimeout = defaultListingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		fetcher: fetcher,
		headers: headers,
		store:   store,
		relay:   relay,
		clock:   clock,
		logger:  logger.Named("detector"),
	}
}

// ListingURL returns the listing page for the current year.
func (d *Detector) ListingURL() string {
	return d.cfg.Source.ListingURL(d.clock.Now().Year())
}

// FetchListing performs one GET of pageURL with listing headers and returns the body.
func (d *Detector) FetchListing(ctx context.Context, pageURL string) (string, error) {
	resp, err := d.fetcher.Fetch(ctx, gazette.FetchRequest{
		URL:     pageURL,
		Headers: d.requestHeaders(gazette.RequestListing),
		Timeout: d.cfg.ListingTimeout,
	})
	metrics.ObserveListingFetch(err)
	if err != nil {
		return "", fmt.Errorf("fetch listing %s: %w", pageURL, err)
	}
	return string(resp.Body), nil
}

func (d *Detector) requestHeaders(kind gazette.RequestKind) http.Header {
	if d.headers == nil {
		return nil
	}
	return d.headers.Headers(kind)
}

func (d *Detector) candidates(ctx context.Context) (string, []gazette.Candidate, error) {
	listingURL := d.ListingURL()
	html, err := d.FetchListing(ctx, listingURL)
	if err != nil {
		return listingURL, nil, err
	}
	src := d.cfg.Source
	candidates, err := gazette.ExtractCandidates(html, listingURL, src.Marker, src.Suffix)
	if err != nil {
		// Unparseable markup is treated as an empty listing.
		d.logger.Warn("listing not parseable", zap.String("url", listingURL), zap.Error(err))
		return listingURL, []gazette.Candidate{}, nil
	}
	return listingURL, candidates, nil
}

// Detect runs one detection pass. Each new candidate is inserted in the found
// state and its download relayed before the next candidate is looked at, so a
// failure later in the run never strands an inserted record. Candidates the
// retry policy allows are relayed again but stay in Seen.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	listingURL, candidates, err := d.candidates(ctx)
	if err != nil {
		return Result{ListingURL: listingURL}, err
	}

	now := d.clock.Now()
	out := newPartitioned()
	inRun := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		n := noveltySeen
		if _, dup := inRun[c.Filename]; !dup {
			inRun[c.Filename] = struct{}{}
			n, err = lookup(ctx, d.store, c, d.cfg.Retry, now)
			if err != nil {
				return Result{ListingURL: listingURL, Candidates: candidates}, err
			}
		}
		if n == noveltyNew {
			n, err = d.insert(ctx, c, now)
			if err != nil {
				return Result{ListingURL: listingURL, Candidates: candidates}, err
			}
		}
		metrics.ObserveCandidate(string(n))
		out.add(c, n)
		if n == noveltyNew || n == noveltyRetry {
			d.dispatchDownload(ctx, c)
		}
	}

	d.logger.Info("detection finished",
		zap.String("url", listingURL),
		zap.Int("candidates", len(candidates)),
		zap.Int("new", len(out.New)),
		zap.Int("retry", len(out.Retry)),
	)
	return Result{ListingURL: listingURL, Candidates: candidates, Partitioned: out}, nil
}

// insert records c as found. Losing an insert race to a concurrent run makes it seen.
func (d *Detector) insert(ctx context.Context, c gazette.Candidate, now time.Time) (novelty, error) {
	err := d.store.Insert(ctx, gazette.NewRecord(c, now))
	switch {
	case err == nil:
		d.logger.Info("new notice", zap.String("filename", c.Filename), zap.String("url", c.URL))
		return noveltyNew, nil
	case errors.Is(err, gazette.ErrAlreadyExists):
		return noveltySeen, nil
	default:
		return "", fmt.Errorf("insert %s: %w", c.Filename, err)
	}
}

func (d *Detector) dispatchDownload(ctx context.Context, c gazette.Candidate) {
	if d.relay == nil {
		return
	}
	msg := gazette.Message{Stage: gazette.StageDownload, Filename: c.Filename, URL: c.URL}
	if err := d.relay.Dispatch(ctx, msg); err != nil {
		d.logger.Warn("download relay failed", zap.String("filename", c.Filename), zap.Error(err))
	}
}

// Check fetches the listing and reports which candidates are new without
// writing records or relaying anything.
func (d *Detector) Check(ctx context.Context) (CheckResult, error) {
	listingURL, candidates, err := d.candidates(ctx)
	if err != nil {
		return CheckResult{ListingURL: listingURL}, err
	}
	parts, err := Partition(ctx, d.store, candidates, d.cfg.Retry, d.clock.Now())
	if err != nil {
		return CheckResult{ListingURL: listingURL}, err
	}

	fresh := make(map[string]bool, len(parts.New))
	for _, c := range parts.New {
		fresh[c.Filename] = true
	}
	res := CheckResult{
		ListingURL: listingURL,
		All:        make([]CheckedCandidate, 0, len(candidates)),
		New:        make([]CheckedCandidate, 0, len(parts.New)),
	}
	for _, c := range candidates {
		// only the first occurrence of a repeated filename is new
		cc := CheckedCandidate{Candidate: c, IsNew: fresh[c.Filename]}
		fresh[c.Filename] = false
		res.All = append(res.All, cc)
		if cc.IsNew {
			res.New = append(res.New, cc)
		}
	}
	return res, nil
}
