// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/api"
	"github.com/JakeFAU/gazette-archiver/internal/clock/system"
	"github.com/JakeFAU/gazette-archiver/internal/config"
	"github.com/JakeFAU/gazette-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/gazette-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/headers"
	"github.com/JakeFAU/gazette-archiver/internal/logging"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
	"github.com/JakeFAU/gazette-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/gazette-archiver/internal/relay"
	"github.com/JakeFAU/gazette-archiver/internal/scheduler"
	firestorestore "github.com/JakeFAU/gazette-archiver/internal/storage/firestore"
	gcsstorage "github.com/JakeFAU/gazette-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gazette-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/gazette-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/gazette-archiver/internal/storage/postgres"
	s3storage "github.com/JakeFAU/gazette-archiver/internal/storage/s3"
	sqlitestore "github.com/JakeFAU/gazette-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/gazette-archiver/internal/worker"
)

const serviceName = "gazette-archiver"

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	records    gazette.RecordStore
	blobs      gazette.BlobStore
	relay      gazette.Relay
	queue      *relay.Queue
	detector   *pipeline.Detector
	downloader *pipeline.Downloader
	inspector  *pipeline.Inspector
	scheduler  *scheduler.Scheduler
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	// workersDone is closed once the dispatcher started by StartWorkers returns.
	workersDone chan struct{}
	workersOnce sync.Once
	// closers release clients in reverse order of construction.
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Build creates the logger from cfg and then the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, serviceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("records", cfg.Records.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("relay", cfg.Relay.Driver),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.records, err = a.setupRecords(ctx); err != nil {
		return err
	}
	if a.blobs, err = a.setupBlobs(ctx); err != nil {
		return err
	}
	transport, err := a.setupRelay(ctx)
	if err != nil {
		return err
	}
	a.relay = relay.NewBestEffort(transport, a.cfg.RelayTimeout(), a.logger)

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: a.cfg.HTTP.RequestsPerSecond,
		Burst:             a.cfg.HTTP.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{}, limiter)
	hdrs := headers.NewRotating(a.cfg.HTTP.UserAgents, strings.TrimRight(a.cfg.Source.BaseURL, "/")+"/")

	a.detector = pipeline.NewDetector(pipeline.DetectorConfig{
		Source:         a.cfg.GazetteSource(),
		ListingTimeout: a.cfg.ListingTimeout(),
		Retry:          a.cfg.RetryPolicy(),
	}, fetcher, hdrs, a.records, a.relay, clock, a.logger)
	a.downloader = pipeline.NewDownloader(pipeline.DownloaderConfig{
		Timeout:     a.cfg.DownloadTimeout(),
		MaxBodySize: a.cfg.MaxDocumentBytes(),
		ContentType: a.cfg.Storage.ContentType,
		Retry:       a.cfg.RetryPolicy(),
	}, fetcher, hdrs, a.records, a.blobs, a.relay, clock, a.logger.Named("downloader"))
	a.inspector = pipeline.NewInspector(fetcher, hdrs, a.cfg.ListingTimeout())
	a.scheduler = scheduler.New(a.detector, a.cfg.RunTimeout(), a.logger)

	if a.queue != nil {
		runners := make([]dispatcher.Runner, 0, a.cfg.Pipeline.Workers)
		for i := 0; i < a.cfg.Pipeline.Workers; i++ {
			runners = append(runners, worker.New(a.queue, a.downloader, a.logger.With(zap.Int("index", i))))
		}
		a.dispatch = dispatcher.New(runners, a.logger.Named("dispatcher"))
	}

	a.apiServer = api.NewServer(
		a.detector,
		a.scheduler,
		a.downloader,
		a.inspector,
		a.records,
		clock,
		a.cfg,
		a.logger.Named("api"),
	)
	return nil
}

func (a *App) setupRecords(ctx context.Context) (gazette.RecordStore, error) {
	rc := a.cfg.Records
	switch rc.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             rc.DSN,
			Table:           rc.Table,
			MaxConns:        rc.MaxConns,
			MinConns:        rc.MinConns,
			MaxConnLifetime: time.Duration(rc.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		a.addCloser("postgres", func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		a.logger.Info("using postgres record store", zap.String("table", rc.Table))
		return store, nil
	case "sqlite":
		store, err := sqlitestore.New(rc.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store init failed: %w", err)
		}
		a.addCloser("sqlite", store.Close)
		a.logger.Info("using sqlite record store", zap.String("path", rc.Path))
		return store, nil
	case "firestore":
		store, err := firestorestore.New(ctx, firestorestore.Config{ProjectID: rc.ProjectID, Collection: rc.Collection})
		if err != nil {
			return nil, fmt.Errorf("firestore record store init failed: %w", err)
		}
		a.addCloser("firestore", store.Close)
		a.logger.Info("using firestore record store",
			zap.String("project", rc.ProjectID),
			zap.String("collection", rc.Collection),
		)
		return store, nil
	default:
		a.logger.Warn("using in-memory record store; records are lost on restart")
		return memorystorage.NewRecordStore(), nil
	}
}

func (a *App) setupBlobs(ctx context.Context) (gazette.BlobStore, error) {
	sc := a.cfg.Storage
	var blobs gazette.BlobStore
	switch sc.Driver {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs", client.Close)
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:       sc.Bucket,
			ProjectID:    sc.ProjectID,
			Location:     sc.Location,
			CacheControl: sc.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", sc.Bucket))
	case "s3":
		var err error
		blobs, err = s3storage.New(ctx, s3storage.Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			UsePathStyle:    sc.UsePathStyle,
			CacheControl:    sc.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.logger.Info("using S3 storage backend", zap.String("bucket", sc.Bucket), zap.String("endpoint", sc.Endpoint))
	case "local":
		var err error
		blobs, err = localstorage.New(localstorage.Config{BaseDir: sc.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", sc.BaseDir))
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
	if err := blobs.EnsureContainer(ctx); err != nil {
		return nil, fmt.Errorf("ensure %s container: %w", sc.Driver, err)
	}
	return blobs, nil
}

func (a *App) setupRelay(ctx context.Context) (gazette.Relay, error) {
	rc := a.cfg.Relay
	switch rc.Driver {
	case "pubsub":
		topics := map[gazette.Stage]string{gazette.StageDownload: rc.DownloadTopic}
		if rc.ProcessTopic != "" {
			topics[gazette.StageProcess] = rc.ProcessTopic
		}
		ps, err := relay.NewPubSub(ctx, rc.ProjectID, topics)
		if err != nil {
			return nil, fmt.Errorf("pubsub relay init failed: %w", err)
		}
		a.addCloser("pubsub", ps.Close)
		a.logger.Info("Pub/Sub relay initialized",
			zap.String("project", rc.ProjectID),
			zap.String("download_topic", rc.DownloadTopic),
			zap.String("process_topic", rc.ProcessTopic),
		)
		return ps, nil
	case "http":
		h, err := relay.NewHTTP(rc.BaseURL, relay.DefaultPaths, &http.Client{Timeout: a.cfg.RelayTimeout()})
		if err != nil {
			return nil, fmt.Errorf("http relay init failed: %w", err)
		}
		a.logger.Info("HTTP relay initialized", zap.String("base_url", rc.BaseURL))
		return h, nil
	default:
		a.queue = relay.NewQueue(rc.QueueDepth)
		a.logger.Info("in-process relay queue initialized", zap.Int("depth", rc.QueueDepth))
		return a.queue, nil
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Detector returns the detection stage.
func (a *App) Detector() *pipeline.Detector { return a.detector }

// Downloader returns the download stage.
func (a *App) Downloader() *pipeline.Downloader { return a.downloader }

// Scheduler returns the cron scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Records returns the record store.
func (a *App) Records() gazette.RecordStore { return a.records }

// Blobs returns the blob store.
func (a *App) Blobs() gazette.BlobStore { return a.blobs }

// Check reports new candidates without writing records.
func (a *App) Check(ctx context.Context) (pipeline.CheckResult, error) {
	return a.detector.Check(ctx)
}

// Detect runs one detection pass bounded by the configured run timeout.
func (a *App) Detect(ctx context.Context) (pipeline.Result, error) {
	return a.scheduler.RunNow(ctx)
}

// Download fetches and stores a single document.
func (a *App) Download(ctx context.Context, c gazette.Candidate) (pipeline.Outcome, error) {
	return a.downloader.Download(ctx, c)
}

// StartWorkers starts the download workers in the background so queued
// downloads are consumed while detection is still relaying. Workers keep
// running until the queue is closed. Calling it again is a no-op.
func (a *App) StartWorkers(ctx context.Context) {
	a.workersOnce.Do(func() {
		a.workersDone = make(chan struct{})
		if a.queue == nil || a.dispatch == nil {
			close(a.workersDone)
			return
		}
		a.logger.Info("download workers started", zap.Int("workers", a.dispatch.Size()))
		go func() {
			defer close(a.workersDone)
			a.dispatch.Run(context.WithoutCancel(ctx))
		}()
	})
}

// Drain closes the in-process queue and blocks until the workers have handled
// every buffered message, or until ctx ends. It is a no-op for external relays.
func (a *App) Drain(ctx context.Context) {
	if a.queue == nil || a.dispatch == nil {
		return
	}
	a.StartWorkers(ctx)
	a.queue.Close()
	select {
	case <-a.workersDone:
	case <-ctx.Done():
		a.logger.Warn("download workers did not drain", zap.Error(ctx.Err()))
	}
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive ctx so buffered downloads drain once the queue is closed.
	a.StartWorkers(ctx)

	if err := a.scheduler.Start(a.cfg.Pipeline.Schedule); err != nil {
		return err
	}
	if a.cfg.Pipeline.RunOnStart {
		go func() {
			if _, err := a.scheduler.RunNow(ctx); err != nil {
				a.logger.Error("startup detection failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop(shutdownCtx)
	a.Drain(shutdownCtx)

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		// stderr/stdout sync fails with EINVAL on some platforms.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
