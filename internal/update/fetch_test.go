package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
)

func TestFetchStringRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("  1.9.5.3\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(nil, fastPolicy(), time.Second, nil)
	body, err := f.FetchString(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "1.9.5.3", body)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchStringDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(nil, fastPolicy(), time.Second, nil)
	_, err := f.FetchString(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchStringGivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(nil, fastPolicy(), time.Second, nil)
	_, err := f.FetchString(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownloadWritesExecutable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("binary"))
	}))
	defer srv.Close()

	dst := join(t.TempDir(), "MCGalaxy.update")
	f := NewFetcher(nil, fastPolicy(), time.Second, nil)
	require.NoError(t, f.Download(context.Background(), srv.URL, dst))
	assert.Equal(t, "binary", readFile(t, dst))
}
