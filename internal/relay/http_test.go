package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

func TestHTTPDispatchPostsJSON(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]string, 2)
	paths := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		paths <- r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	relay, err := NewHTTP(srv.URL+"/", nil, srv.Client())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, relay.Dispatch(ctx, gazette.Message{Stage: gazette.StageDownload, Filename: "doc1.pdf", URL: "https://example.org/doc1.pdf"}))
	require.Equal(t, "/api/download-pdf", <-paths)
	require.Equal(t, map[string]string{"filename": "doc1.pdf", "url": "https://example.org/doc1.pdf"}, <-got)

	require.NoError(t, relay.Dispatch(ctx, gazette.Message{Stage: gazette.StageProcess, Filename: "doc1.pdf", StoragePath: "2025/doc1.pdf"}))
	require.Equal(t, "/api/process-pdf", <-paths)
	require.Equal(t, map[string]string{"filename": "doc1.pdf", "storage_path": "2025/doc1.pdf"}, <-got)
}

func TestHTTPDispatchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	relay, err := NewHTTP(srv.URL, nil, srv.Client())
	require.NoError(t, err)
	require.ErrorContains(t, relay.Dispatch(context.Background(), gazette.Message{Stage: gazette.StageDownload}), "unexpected status 500")
	require.ErrorContains(t, relay.Dispatch(context.Background(), gazette.Message{Stage: "archive"}), "no endpoint")

	_, err = NewHTTP(" ", nil, nil)
	require.Error(t, err)
}
