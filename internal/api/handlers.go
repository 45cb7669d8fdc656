package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/gazette-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
)

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"message": serviceName,
		"endpoints": map[string]string{
			"manual_check": "/api/check-new-pdfs",
			"cron_job":     "/api/cron/hourly-check",
			"download":     "/api/download-pdf",
			"records":      "/api/records",
		},
		"status": "active",
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.checker == nil || s.records == nil {
		s.fail(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ready"})
}

// checkNewPDFs reports candidates on the listing page without writing records.
// With ?url= it inspects that page instead.
func (s *Server) checkNewPDFs(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("url"); raw != "" {
		s.inspect(w, r, raw)
		return
	}
	res, err := s.checker.Check(r.Context())
	if err != nil {
		s.logger.Error("manual check failed", zap.String("url", res.ListingURL), zap.Error(err))
		s.fail(w, statusFor(err), err.Error())
		return
	}
	preview := res.All
	if len(preview) > allPDFsPreview {
		preview = preview[:allPDFsPreview]
	}
	s.respond(w, http.StatusOK, map[string]any{
		"listing_url":      res.ListingURL,
		"total_pdfs_found": len(res.All),
		"new_pdfs_count":   len(res.New),
		"all_pdfs":         preview,
		"new_pdfs":         res.New,
	})
}

func (s *Server) inspect(w http.ResponseWriter, r *http.Request, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.fail(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if s.inspector == nil {
		s.fail(w, http.StatusServiceUnavailable, "inspection not configured")
		return
	}
	page, err := s.inspector.Inspect(r.Context(), u.String())
	if err != nil {
		s.logger.Warn("inspection failed", zap.String("url", raw), zap.Error(err))
		s.fail(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"url":         page.URL,
		"status_code": page.StatusCode,
		"title":       page.Title,
		"link_count":  page.LinkCount,
		"image_count": page.ImageCount,
		"form_count":  page.FormCount,
		"links":       page.Links,
		"text_sample": page.TextSample,
	})
}

func (s *Server) hourlyCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunNow(r.Context())
	if err != nil {
		s.fail(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"listing_url":    res.ListingURL,
		"new_pdfs_found": len(res.New),
		"new_pdfs":       res.New,
		"retried":        res.Retry,
	})
}

type downloadRequest struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

func (s *Server) downloadPDF(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	req.URL = strings.TrimSpace(req.URL)
	if req.Filename == "" || req.URL == "" {
		s.fail(w, http.StatusBadRequest, "Missing filename or URL")
		return
	}
	// Relay callers hang up after their own timeout; the download is bounded by
	// the downloader's timeout instead.
	ctx := context.WithoutCancel(r.Context())
	out, err := s.downloader.Download(ctx, gazette.Candidate{Filename: req.Filename, URL: req.URL})
	if err != nil {
		s.fail(w, statusFor(err), err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"filename":     out.Filename,
		"storage_path": out.StoragePath,
		"uri":          out.URI,
		"size":         out.Size,
		"sha256":       out.SHA256,
	})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	status := gazette.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.fail(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	records, err := s.records.List(r.Context(), status)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// bearerMiddleware requires "Authorization: Bearer <secret>" when secret is set.
func bearerMiddleware(secret string, fail func(http.ResponseWriter, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		expected := []byte("Bearer " + secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var statusErr *collyfetcher.StatusError
	switch {
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrDocumentTooLarge):
		return http.StatusBadGateway
	case errors.Is(err, gazette.ErrEmptyFilename):
		return http.StatusBadRequest
	case errors.Is(err, gazette.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
