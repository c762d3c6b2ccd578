// Package fetcher retrieves listing pages over HTTP with a shared
// rate-limit guard backed by the cache service.
package fetcher

import (
	"errors"
	"fmt"
	"io"
	"time"

	"olxmonitor/helpers"
	"olxmonitor/logger"
	errs "olxmonitor/pkg/errors"
	"olxmonitor/services/cache"
)

// PageFetcher fetches the body of a single page URL.
type PageFetcher interface {
	Fetch(url string) (io.Reader, error)
}

// HTTPFetcher fetches pages with randomized headers. When a cache service
// is configured it keeps a block key after the source rate limits us, so
// every caller backs off together instead of hammering independently.
type HTTPFetcher struct {
	cacheSvc  cache.CacheService
	blockKey  string
	blockTime time.Duration
	log       *logger.Logger
}

// NewHTTPFetcher creates a fetcher. cacheSvc may be nil, which disables
// the shared rate-limit guard.
func NewHTTPFetcher(cacheSvc cache.CacheService, blockKey string, blockTime time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		cacheSvc:  cacheSvc,
		blockKey:  blockKey,
		blockTime: blockTime,
		log:       logger.ForFetcher(),
	}
}

// Fetch retrieves a URL, honoring an active rate-limit block.
func (f *HTTPFetcher) Fetch(url string) (io.Reader, error) {
	if f.cacheSvc != nil && f.blockKey != "" {
		if _, err := f.cacheSvc.Get(f.blockKey); err == nil {
			return nil, fmt.Errorf("%s: blocked for %d more seconds after rate limit", f.blockKey, int(f.blockTime/time.Second))
		}
	}

	body, err := helpers.FetchWithRandomHeaders(url)
	if err != nil {
		var ingErr *errs.IngestError
		if f.cacheSvc != nil && f.blockKey != "" && errors.As(err, &ingErr) && ingErr.Type == errs.ErrorTypeRateLimit {
			f.log.Warn().Str("url", url).Dur("block_time", f.blockTime).Msg("Rate limited, setting block key")
			f.cacheSvc.Set(f.blockKey, []byte(fmt.Sprintf("%d", int(f.blockTime/time.Second))), f.blockTime)
		}
		return nil, err
	}

	return body, nil
}
