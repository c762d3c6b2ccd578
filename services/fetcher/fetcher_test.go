package fetcher

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "olxmonitor/pkg/errors"
	"olxmonitor/services/cache"
)

// memoryCache implements a simple in-memory cache for testing
type memoryCache struct {
	data map[string][]byte
}

var _ cache.CacheService = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("cache miss")
}

func (m *memoryCache) Set(key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memoryCache) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func TestFetchWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(nil, "", 0)
	reader, err := f.Fetch(server.URL)
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ok")
}

func TestFetchSetsBlockKeyOnRateLimit(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	mc := newMemoryCache()
	f := NewHTTPFetcher(mc, "test_rate_limited", 5*time.Minute)

	_, err := f.Fetch(server.URL)
	require.Error(t, err)
	var ingErr *errs.IngestError
	require.True(t, errors.As(err, &ingErr))
	assert.Equal(t, errs.ErrorTypeRateLimit, ingErr.Type)

	// The block key is now set
	_, err = mc.Get("test_rate_limited")
	assert.NoError(t, err)

	// The next fetch is refused locally, without touching the server
	_, err = f.Fetch(server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchOrdinaryErrorDoesNotBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	mc := newMemoryCache()
	f := NewHTTPFetcher(mc, "test_rate_limited", 5*time.Minute)

	_, err := f.Fetch(server.URL)
	require.Error(t, err)

	_, err = mc.Get("test_rate_limited")
	assert.Error(t, err, "a plain server error must not set the block key")
}
