package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/config"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildWithMemoryDrivers(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Detector())
	require.NotNil(t, app.Downloader())
	require.NotNil(t, app.Scheduler())
	require.NotNil(t, app.queue)
	require.Equal(t, 1, app.dispatch.Size())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)
}

func TestBuildWithLocalStorageAndSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := baseConfig(t)
	cfg.Records.Driver = "sqlite"
	cfg.Records.Path = filepath.Join(dir, "records.db")
	cfg.Storage.Driver = "local"
	cfg.Storage.BaseDir = filepath.Join(dir, "blobs")
	cfg.Relay.Driver = "http"
	cfg.Relay.BaseURL = "http://127.0.0.1:1"

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	require.Nil(t, app.queue)
	require.Nil(t, app.dispatch)
	info, err := os.Stat(cfg.Storage.BaseDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	ctx := context.Background()
	require.NoError(t, app.Records().Insert(ctx, gazette.NewRecord(gazette.Candidate{Filename: "a.pdf", URL: "u"}, time.Now())))
	_, err = app.Records().FindByFilename(ctx, "a.pdf")
	require.NoError(t, err)

	require.NoError(t, app.Close(ctx))
	require.Empty(t, app.closers)
}

func TestBuildFailsOnBadPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Records.Driver = "postgres"
	cfg.Records.DSN = "postgres://user@localhost:99999/gazette"

	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "postgres record store init failed")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeoutSeconds = 2
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDrainProcessesQueuedDownloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := BuildWithLogger(ctx, baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	// unreachable URL: the worker records the failure
	require.NoError(t, app.relay.Dispatch(ctx, gazette.Message{
		Stage:    gazette.StageDownload,
		Filename: "doc1.pdf",
		URL:      "http://127.0.0.1:1/doc1.pdf",
	}))
	require.Equal(t, 1, app.queue.Len())

	app.Drain(ctx)

	rec, err := app.Records().FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloadFailed, rec.Status)
	require.NotEmpty(t, rec.ErrorMessage)
}

func TestCheckFlowDownloadsMoreNoticesThanQueueDepth(t *testing.T) {
	t.Parallel()

	const notices = 5
	listing := &strings.Builder{}
	for i := range notices {
		fmt.Fprintf(listing, `<a href="/docs/doc%d.pdf">Notice B %d</a>`, i, i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/docs/") {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 " + r.URL.Path))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, listing.String())
	}))
	t.Cleanup(srv.Close)

	cfg := baseConfig(t)
	cfg.Source.BaseURL = srv.URL
	cfg.Relay.QueueDepth = 2
	cfg.HTTP.RelayTimeoutSeconds = 1
	cfg.HTTP.RequestsPerSecond = 1000
	cfg.HTTP.Burst = 100

	ctx := context.Background()
	app, err := BuildWithLogger(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	app.StartWorkers(ctx)
	res, err := app.Detect(ctx)
	require.NoError(t, err)
	app.Drain(ctx)
	require.Len(t, res.New, notices)

	downloaded, err := app.Records().List(ctx, gazette.StatusDownloaded)
	require.NoError(t, err)
	require.Len(t, downloaded, notices)
	found, err := app.Records().List(ctx, gazette.StatusFound)
	require.NoError(t, err)
	require.Empty(t, found)
}
