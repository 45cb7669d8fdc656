package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

type relayFunc func(ctx context.Context, msg gazette.Message) error

func (f relayFunc) Dispatch(ctx context.Context, msg gazette.Message) error { return f(ctx, msg) }

func TestBestEffortSwallowsErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	next := relayFunc(func(context.Context, gazette.Message) error {
		calls++
		return errors.New("connection refused")
	})
	r := NewBestEffort(next, time.Second, zap.NewNop())

	err := r.Dispatch(context.Background(), gazette.Message{Stage: gazette.StageDownload, Filename: "a.pdf"})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "no retry inside the relay")
}

func TestBestEffortBoundsDispatch(t *testing.T) {
	t.Parallel()

	next := relayFunc(func(ctx context.Context, _ gazette.Message) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		require.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
		<-ctx.Done()
		return ctx.Err()
	})
	r := NewBestEffort(next, 50*time.Millisecond, nil)

	start := time.Now()
	require.NoError(t, r.Dispatch(context.Background(), gazette.Message{Stage: gazette.StageProcess}))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestNewBestEffortClampsTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, MaxTimeout, NewBestEffort(nil, 0, nil).timeout)
	require.Equal(t, MaxTimeout, NewBestEffort(nil, time.Minute, nil).timeout)
	require.Equal(t, 3*time.Second, NewBestEffort(nil, 3*time.Second, nil).timeout)
}
