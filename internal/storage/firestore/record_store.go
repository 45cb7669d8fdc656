// Package firestore provides a RecordStore backed by a Cloud Firestore collection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// DefaultCollection is used when none is configured.
const DefaultCollection = "scraped_pdfs"

// Config selects the project and collection holding document records.
type Config struct {
	ProjectID  string
	Collection string
}

// document is the stored shape of a record; the filename doubles as the document ID.
type document struct {
	Filename          string     `firestore:"filename"`
	URL               string     `firestore:"url"`
	Status            string     `firestore:"status"`
	FoundAt           time.Time  `firestore:"found_at"`
	DownloadStartedAt *time.Time `firestore:"download_started_at,omitempty"`
	DownloadedAt      *time.Time `firestore:"downloaded_at,omitempty"`
	FailedAt          *time.Time `firestore:"failed_at,omitempty"`
	ErrorMessage      string     `firestore:"error_message,omitempty"`
	StoragePath       string     `firestore:"storage_path,omitempty"`
	FileSize          int64      `firestore:"file_size,omitempty"`
}

// RecordStore keeps one Firestore document per filename.
type RecordStore struct {
	client     *firestore.Client
	collection string
	ownsClient bool
}

// New creates a Firestore client for cfg.ProjectID and wraps it.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	store := NewWithClient(client, cfg.Collection)
	store.ownsClient = true
	return store, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *firestore.Client, collection string) *RecordStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RecordStore{client: client, collection: collection}
}

// Close releases the client when the store created it.
func (s *RecordStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// FindByFilename returns the record for filename or gazette.ErrNotFound.
func (s *RecordStore) FindByFilename(ctx context.Context, filename string) (gazette.Record, error) {
	if filename == "" {
		return gazette.Record{}, gazette.ErrEmptyFilename
	}
	snap, err := s.client.Collection(s.collection).Doc(filename).Get(ctx)
	if err != nil {
		return gazette.Record{}, mapError(filename, err)
	}
	var doc document
	if err := snap.DataTo(&doc); err != nil {
		return gazette.Record{}, fmt.Errorf("decode %s: %w", filename, err)
	}
	return fromDocument(doc), nil
}

// Insert creates the document for record. An existing document yields gazette.ErrAlreadyExists.
func (s *RecordStore) Insert(ctx context.Context, record gazette.Record) error {
	if record.Filename == "" {
		return gazette.ErrEmptyFilename
	}
	_, err := s.client.Collection(s.collection).Doc(record.Filename).Create(ctx, toDocument(record))
	if err != nil {
		return mapError(record.Filename, err)
	}
	return nil
}

// UpdateStatus writes only the fields owned by t.Status.
func (s *RecordStore) UpdateStatus(ctx context.Context, filename string, t gazette.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if filename == "" {
		return gazette.ErrEmptyFilename
	}
	_, err := s.client.Collection(s.collection).Doc(filename).Update(ctx, updatesFor(t))
	if err != nil {
		return mapError(filename, err)
	}
	return nil
}

// List returns records with the given status, or every record when status is empty.
// Ordering is done client-side so no composite index is needed.
func (s *RecordStore) List(ctx context.Context, st gazette.Status) ([]gazette.Record, error) {
	q := s.client.Collection(s.collection).Query
	if st != "" {
		q = q.Where("status", "==", string(st))
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []gazette.Record{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		var doc document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
		}
		out = append(out, fromDocument(doc))
	}
	sortRecords(out)
	return out, nil
}

func updatesFor(t gazette.Transition) []firestore.Update {
	updates := []firestore.Update{{Path: "status", Value: string(t.Status)}}
	switch t.Status {
	case gazette.StatusDownloading:
		updates = append(updates, firestore.Update{Path: "download_started_at", Value: t.At})
	case gazette.StatusDownloaded:
		updates = append(updates,
			firestore.Update{Path: "downloaded_at", Value: t.At},
			firestore.Update{Path: "storage_path", Value: t.StoragePath},
			firestore.Update{Path: "file_size", Value: t.FileSize},
		)
	case gazette.StatusDownloadFailed:
		updates = append(updates,
			firestore.Update{Path: "failed_at", Value: t.At},
			firestore.Update{Path: "error_message", Value: t.ErrorMessage},
		)
	}
	return updates
}

func mapError(filename string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", filename, gazette.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", filename, gazette.ErrAlreadyExists)
	default:
		return fmt.Errorf("firestore %s: %w", filename, err)
	}
}

func toDocument(r gazette.Record) document {
	return document{
		Filename:          r.Filename,
		URL:               r.URL,
		Status:            string(r.Status),
		FoundAt:           r.FoundAt,
		DownloadStartedAt: r.DownloadStartedAt,
		DownloadedAt:      r.DownloadedAt,
		FailedAt:          r.FailedAt,
		ErrorMessage:      r.ErrorMessage,
		StoragePath:       r.StoragePath,
		FileSize:          r.FileSize,
	}
}

func fromDocument(d document) gazette.Record {
	return gazette.Record{
		Filename:          d.Filename,
		URL:               d.URL,
		Status:            gazette.Status(d.Status),
		FoundAt:           d.FoundAt,
		DownloadStartedAt: d.DownloadStartedAt,
		DownloadedAt:      d.DownloadedAt,
		FailedAt:          d.FailedAt,
		ErrorMessage:      d.ErrorMessage,
		StoragePath:       d.StoragePath,
		FileSize:          d.FileSize,
	}
}

func sortRecords(recs []gazette.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].FoundAt.Equal(recs[j].FoundAt) {
			return recs[i].Filename < recs[j].Filename
		}
		return recs[i].FoundAt.Before(recs[j].FoundAt)
	})
}
