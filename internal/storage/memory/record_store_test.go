package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

func TestRecordStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRecordStore()
	found := time.Unix(1000, 0).UTC()

	_, err := store.FindByFilename(ctx, "doc1.pdf")
	require.ErrorIs(t, err, gazette.ErrNotFound)

	rec := gazette.NewRecord(gazette.Candidate{Filename: "doc1.pdf", URL: "https://example.org/doc1.pdf"}, found)
	require.NoError(t, store.Insert(ctx, rec))
	require.ErrorIs(t, store.Insert(ctx, rec), gazette.ErrAlreadyExists)

	require.NoError(t, store.UpdateStatus(ctx, "doc1.pdf", gazette.Downloading(found.Add(time.Second))))
	require.NoError(t, store.UpdateStatus(ctx, "doc1.pdf", gazette.Downloaded(found.Add(2*time.Second), "2025/doc1.pdf", 9)))

	got, err := store.FindByFilename(ctx, "doc1.pdf")
	require.NoError(t, err)
	require.Equal(t, gazette.StatusDownloaded, got.Status)
	require.Equal(t, "2025/doc1.pdf", got.StoragePath)
	require.EqualValues(t, 9, got.FileSize)
}

func TestRecordStoreUpdateErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRecordStore()

	err := store.UpdateStatus(ctx, "missing.pdf", gazette.Downloading(time.Unix(1, 0)))
	require.ErrorIs(t, err, gazette.ErrNotFound)

	err = store.UpdateStatus(ctx, "missing.pdf", gazette.Transition{Status: gazette.StatusFound, At: time.Unix(1, 0)})
	require.True(t, errors.Is(err, gazette.ErrInvalidTransition))

	require.ErrorIs(t, store.Insert(ctx, gazette.Record{}), gazette.ErrEmptyFilename)
}

func TestRecordStoreListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRecordStore()
	base := time.Unix(5000, 0).UTC()
	for i, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		require.NoError(t, store.Insert(ctx, gazette.NewRecord(gazette.Candidate{Filename: name}, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.UpdateStatus(ctx, "a.pdf", gazette.DownloadFailed(base, errors.New("404"))))

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c.pdf", all[0].Filename)
	require.Equal(t, "b.pdf", all[2].Filename)

	failed, err := store.List(ctx, gazette.StatusDownloadFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "a.pdf", failed[0].Filename)
	require.Equal(t, "404", failed[0].ErrorMessage)
}
