// Package relay forwards notifications between pipeline stages.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/metrics"
)

// MaxTimeout bounds a single dispatch.
const MaxTimeout = 10 * time.Second

// BestEffort wraps a transport so that a dispatch never fails its caller.
// Failures are logged and counted, then dropped; a later scheduled run
// picks the work up again from the record store.
type BestEffort struct {
	next    gazette.Relay
	timeout time.Duration
	logger  *zap.Logger
}

// NewBestEffort wraps next. timeout is clamped to (0, MaxTimeout].
func NewBestEffort(next gazette.Relay, timeout time.Duration, logger *zap.Logger) *BestEffort {
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{next: next, timeout: timeout, logger: logger.Named("relay")}
}

// Dispatch forwards msg and always returns nil.
func (b *BestEffort) Dispatch(ctx context.Context, msg gazette.Message) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := b.next.Dispatch(ctx, msg)
	metrics.ObserveRelay(string(msg.Stage), err)
	if err != nil {
		b.logger.Warn("relay dropped",
			zap.String("stage", string(msg.Stage)),
			zap.String("filename", msg.Filename),
			zap.Error(err),
		)
		return nil
	}
	b.logger.Debug("relay delivered", zap.String("stage", string(msg.Stage)), zap.String("filename", msg.Filename))
	return nil
}
