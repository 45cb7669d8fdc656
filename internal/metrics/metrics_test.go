package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.SAFLII.org/za/gaz/", "www.saflii.org"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveDownloadCountsBytes(t *testing.T) {
	before := testutil.ToFloat64(downloadedBytesTotal)
	ObserveDownload("downloaded", 128)
	ObserveDownload("download_failed", 0)

	if got := testutil.ToFloat64(downloadedBytesTotal) - before; got != 128 {
		t.Errorf("expected 128 bytes counted, got %f", got)
	}
}

func TestObserveRelayOutcomes(t *testing.T) {
	delivered := testutil.ToFloat64(relayDispatchTotal.WithLabelValues("download", "delivered"))
	dropped := testutil.ToFloat64(relayDispatchTotal.WithLabelValues("download", "dropped"))

	ObserveRelay("download", nil)
	ObserveRelay("download", errors.New("timeout"))

	if got := testutil.ToFloat64(relayDispatchTotal.WithLabelValues("download", "delivered")) - delivered; got != 1 {
		t.Errorf("expected one delivered relay, got %f", got)
	}
	if got := testutil.ToFloat64(relayDispatchTotal.WithLabelValues("download", "dropped")) - dropped; got != 1 {
		t.Errorf("expected one dropped relay, got %f", got)
	}
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")) - before; got != 1 {
		t.Errorf("expected one GET 418 request, got %f", got)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
