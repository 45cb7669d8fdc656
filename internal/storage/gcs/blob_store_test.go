package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Request:    r,
	}
}

func newClient(t *testing.T, fn roundTripperFunc) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

const notFoundBody = `{"error":{"code":404,"message":"Not Found"}}`

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, `{}`), nil
	})
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestEnsureContainerExistingBucket(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		assert.Contains(t, r.URL.Path, "/storage/v1/b/sheriff-auction-pdfs")
		return jsonResponse(r, http.StatusOK, `{"name":"sheriff-auction-pdfs"}`), nil
	})
	store, err := New(client, Config{Bucket: "sheriff-auction-pdfs"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureContainer(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodGet}, methods)
}

func TestEnsureContainerCreatesMissingBucket(t *testing.T) {
	var created bool
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodGet {
			return jsonResponse(r, http.StatusNotFound, notFoundBody), nil
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "proj", r.URL.Query().Get("project"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"name":"gazettes"`)
		created = true
		return jsonResponse(r, http.StatusOK, `{"name":"gazettes"}`), nil
	})
	store, err := New(client, Config{Bucket: "gazettes", ProjectID: "proj"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureContainer(context.Background()))
	assert.True(t, created)
}

func TestEnsureContainerToleratesConflict(t *testing.T) {
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodGet {
			return jsonResponse(r, http.StatusNotFound, notFoundBody), nil
		}
		return jsonResponse(r, http.StatusConflict, `{"error":{"code":409,"message":"already owned"}}`), nil
	})
	store, err := New(client, Config{Bucket: "gazettes", ProjectID: "proj"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureContainer(context.Background()))
}

func TestEnsureContainerMissingBucketWithoutProject(t *testing.T) {
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, notFoundBody), nil
	})
	store, err := New(client, Config{Bucket: "gazettes"})
	require.NoError(t, err)

	err = store.EnsureContainer(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no project id")
}

func TestPutObjectUploadsWithMetadata(t *testing.T) {
	var body string
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/gazettes/o")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		return jsonResponse(r, http.StatusOK, `{"name":"2025/doc1.pdf","bucket":"gazettes"}`), nil
	})
	store, err := New(client, Config{Bucket: "gazettes", CacheControl: "max-age=3600"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "2025/doc1.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "gs://gazettes/2025/doc1.pdf", uri)
	assert.Contains(t, body, "application/pdf")
	assert.Contains(t, body, "max-age=3600")
	assert.Contains(t, body, "%PDF-1.4")
}

func TestPutObjectRequiresPath(t *testing.T) {
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request %s", r.URL)
		return nil, nil
	})
	store, err := New(client, Config{Bucket: "gazettes"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "application/pdf", nil)
	require.Error(t, err)
}
