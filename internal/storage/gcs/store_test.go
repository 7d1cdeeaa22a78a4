package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: "status-bucket"})
	require.NoError(t, err)
	return store
}

func TestStorePublishUploadsReport(t *testing.T) {
	t.Parallel()

	body := []byte(`{"cycle_id":"c1"}`)
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/status-bucket/o")
		payload, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(payload), string(body))
		assert.Contains(t, string(payload), "no-cache")
		fmt.Fprintln(w, `{"name": "status.json", "bucket": "status-bucket"}`)
	}))

	require.NoError(t, store.Publish(context.Background(), publisher.Report{CycleID: "c1"}, body))
	assert.Equal(t, "gs://status-bucket/status.json", store.URI())
	assert.Equal(t, "gcs", store.Name())
}

func TestStorePublishError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := store.Publish(context.Background(), publisher.Report{}, []byte(`{}`))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}
