// Package worker drains the in-process relay queue and runs the download stage.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
	"github.com/JakeFAU/gazette-archiver/internal/relay"
)

// Queue yields relay messages.
type Queue interface {
	Dequeue(ctx context.Context) (gazette.Message, error)
}

// Downloader runs one document download.
type Downloader interface {
	Download(ctx context.Context, c gazette.Candidate) (pipeline.Outcome, error)
}

// Worker consumes relay messages one at a time.
type Worker struct {
	queue      Queue
	downloader Downloader
	logger     *zap.Logger
}

// New constructs a Worker.
func New(queue Queue, downloader Downloader, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, downloader: downloader, logger: logger.Named("worker")}
}

// Run blocks, consuming messages until the context finishes or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, relay.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg gazette.Message) {
	logger := w.logger.With(zap.String("stage", string(msg.Stage)), zap.String("filename", msg.Filename))
	switch msg.Stage {
	case gazette.StageDownload:
		// Failures are already recorded as download_failed; nothing to retry here.
		out, err := w.downloader.Download(ctx, gazette.Candidate{Filename: msg.Filename, URL: msg.URL})
		if errors.Is(err, gazette.ErrInvalidTransition) {
			// redelivered message for a record that is done or being downloaded
			logger.Info("download skipped", zap.Error(err))
			return
		}
		if err != nil {
			logger.Warn("download failed", zap.Error(err))
			return
		}
		logger.Debug("download complete", zap.String("storage_path", out.StoragePath), zap.Int64("size", out.Size))
	case gazette.StageProcess:
		// No processing stage runs in-process yet.
		logger.Info("document ready for processing", zap.String("storage_path", msg.StoragePath))
	default:
		logger.Warn("unknown stage dropped")
	}
}
