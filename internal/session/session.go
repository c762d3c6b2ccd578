// Package session drives one ingestion run: the paginated fetch loop with
// adaptive delays, per-item error isolation, progress reporting, and the
// end-of-run inactive sweep.
package session

import (
	"context"
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"olxmonitor/helpers"
	"olxmonitor/internal/district"
	"olxmonitor/internal/listing"
	"olxmonitor/logger"
	errs "olxmonitor/pkg/errors"
)

// State is the lifecycle phase of a crawl session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Store is the slice of the repository the session needs.
type Store interface {
	Upsert(ctx context.Context, c listing.Candidate) (bool, error)
	SweepInactive(ctx context.Context, seenExternalIDs []string, asOf time.Time) (int64, error)
	SaveSession(ctx context.Context, stats listing.RunStats) error
}

// Fetcher obtains rendered HTML for a URL. The session treats it as
// opaque; headers, proxies and anti-bot behavior live behind it.
type Fetcher interface {
	Fetch(url string) (io.Reader, error)
}

// Config holds the knobs for one crawl session.
type Config struct {
	SearchURL      string
	BaseURL        string
	City           string
	MaxPages       int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	TargetCurrency string
	ProgressBuffer int
}

// Session runs a single ingestion pass. Sessions are single-use: create
// one per run and hand it to the caller that needs status or cancellation.
type Session struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	parser  *Parser
	log     *logger.Logger

	progress chan listing.Progress

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	rnd *mathrand.Rand
}

// New creates an idle session. Run starts it; it cannot be reused.
func New(cfg Config, store Store, fetcher Fetcher, resolver *district.Resolver) *Session {
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = 64
	}
	return &Session{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		parser:   NewParser(DefaultSelectors(), cfg.BaseURL, cfg.City, resolver),
		log:      logger.ForSession(),
		progress: make(chan listing.Progress, cfg.ProgressBuffer),
		state:    StateIdle,
		rnd:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// Progress returns the stream of per-page progress events. The channel is
// buffered and events are dropped when full, so a slow or absent consumer
// never stalls the crawl. It is closed when the run ends.
func (s *Session) Progress() <-chan listing.Progress {
	return s.progress
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Cancel requests cooperative cancellation. The session honors it at the
// next page boundary, after reconciling items already fetched.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the session to completion and returns the final stats.
// Pages are processed strictly in order: the empty-page termination rule
// depends on sequential exhaustion, and the inter-page delay is an
// anti-detection requirement, so pages are never fetched in parallel.
func (s *Session) Run(ctx context.Context) (listing.RunStats, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		return listing.RunStats{}, errs.NewRun("session", "session already started", nil)
	}
	s.state = StateRunning
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()
	defer close(s.progress)

	stats := listing.RunStats{StartTime: time.Now().UTC()}
	seen := make(map[string]struct{})

	// Cancellation is honored at page boundaries only: items already
	// fetched for the current page are always reconciled, so their upserts
	// must not die with the run context.
	itemCtx := context.WithoutCancel(runCtx)

	var (
		runErr         error
		cancelled      bool
		pagesAttempted int
		failedPages    int
	)

	s.log.Info().
		Int("max_pages", s.cfg.MaxPages).
		Str("url", s.cfg.SearchURL).
		Msg("Starting crawl session")

	for page := 1; page <= s.cfg.MaxPages; page++ {
		if !s.waitDelay(runCtx) {
			cancelled = true
			break
		}

		pagesAttempted++
		url := fmt.Sprintf("%s&page=%d", s.cfg.SearchURL, page)

		body, err := s.fetchPage(runCtx, url)
		if err != nil {
			if runCtx.Err() != nil {
				cancelled = true
				break
			}
			failedPages++
			stats.ErrorCount++
			s.log.Error().Err(err).Int("page", page).Msg("Page skipped after retries")
			s.emit(listing.Progress{
				Type:            "progress",
				CurrentPage:     page,
				TotalPages:      s.cfg.MaxPages,
				CumulativeItems: stats.TotalProcessed,
				Message:         fmt.Sprintf("Сторінка %d пропущена через помилку", page),
			})
			if failedPages >= 3 && failedPages*2 > pagesAttempted {
				runErr = errs.NewRun("session",
					fmt.Sprintf("majority of pages failed (%d of %d)", failedPages, pagesAttempted), err)
				break
			}
			continue
		}

		candidates, fragments, parseErrs := s.parser.ParsePage(body, time.Now().UTC())
		stats.ErrorCount += parseErrs

		if fragments == 0 {
			s.log.Info().Int("page", page).Msg("Empty page, end of results")
			break
		}

		stats.PagesScraped++
		storageErrs := 0
		pageItems := 0
		for _, cand := range candidates {
			if cand.Price != nil && cand.Price.Currency != s.cfg.TargetCurrency {
				continue
			}
			isNew, err := s.store.Upsert(itemCtx, cand)
			if err != nil {
				stats.ErrorCount++
				storageErrs++
				s.log.Error().Err(err).Str("external_id", cand.ExternalID).Msg("Upsert failed")
				continue
			}
			seen[cand.ExternalID] = struct{}{}
			stats.TotalProcessed++
			pageItems++
			if isNew {
				stats.NewCount++
			} else {
				stats.UpdatedCount++
			}
		}

		// A store refusing most of a page is an outage, not parse noise.
		if len(candidates) >= 4 && storageErrs*2 > len(candidates) {
			runErr = errs.NewRun("session",
				fmt.Sprintf("storage rejected %d of %d items on page %d", storageErrs, len(candidates), page), nil)
			break
		}

		s.emit(listing.Progress{
			Type:            "progress",
			CurrentPage:     page,
			TotalPages:      s.cfg.MaxPages,
			PageItems:       pageItems,
			CumulativeItems: stats.TotalProcessed,
			ProgressPercent: page * 100 / s.cfg.MaxPages,
			Message:         fmt.Sprintf("Обробка сторінки %d/%d", page, s.cfg.MaxPages),
			PageCompleted:   true,
		})

		s.log.Info().
			Int("page", page).
			Int("items", pageItems).
			Int("cumulative", stats.TotalProcessed).
			Msg("Page processed")

		if runCtx.Err() != nil {
			cancelled = true
			break
		}
	}

	stats.EndTime = time.Now().UTC()

	switch {
	case runErr != nil:
		stats.Success = false
		stats.ErrorMessage = runErr.Error()
		s.setState(StateFailed)
	case cancelled:
		stats.Success = false
		stats.ErrorMessage = "cancelled"
		s.setState(StateCancelled)
		s.log.Info().Msg("Session cancelled, reconciled items kept, no sweep")
	default:
		// Natural end or the full configured page range: either way the
		// run covered its target and the sweep may proceed.
		if err := s.sweep(ctx, seen, stats.EndTime); err != nil {
			runErr = err
			stats.Success = false
			stats.ErrorMessage = err.Error()
			s.setState(StateFailed)
			break
		}
		stats.Success = true
		s.setState(StateCompleted)
		s.emit(listing.Progress{
			Type:            "progress",
			CurrentPage:     stats.PagesScraped,
			TotalPages:      s.cfg.MaxPages,
			CumulativeItems: stats.TotalProcessed,
			ProgressPercent: 100,
			Message:         "Парсинг завершено",
		})
	}

	// The session log is best-effort bookkeeping; never fail a run on it.
	if err := s.store.SaveSession(ctx, stats); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session stats")
	}

	s.log.Info().
		Bool("success", stats.Success).
		Int("processed", stats.TotalProcessed).
		Int("new", stats.NewCount).
		Int("updated", stats.UpdatedCount).
		Int("errors", stats.ErrorCount).
		Int("pages", stats.PagesScraped).
		Dur("duration", stats.Duration()).
		Msg("Crawl session finished")

	return stats, runErr
}

// sweep marks unseen records inactive. It runs only after all item
// processing is done, never concurrently with upserts from this session.
func (s *Session) sweep(ctx context.Context, seen map[string]struct{}, asOf time.Time) error {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	affected, err := s.store.SweepInactive(ctx, ids, asOf)
	if err != nil {
		return errs.NewRun("session", "sweep refused", err)
	}
	s.log.Info().Int64("deactivated", affected).Int("seen", len(ids)).Msg("Inactive sweep done")
	return nil
}

// fetchPage fetches one page with bounded retries and exponential backoff.
func (s *Session) fetchPage(ctx context.Context, url string) (io.Reader, error) {
	retry := helpers.RetryConfig{
		MaxAttempts: s.cfg.MaxRetries,
		BaseDelay:   s.cfg.RetryDelay,
	}

	var body io.Reader
	err := retry.Do(ctx, "fetch "+url, func() error {
		var ferr error
		body, ferr = s.fetcher.Fetch(url)
		return ferr
	})
	if err != nil {
		return nil, errs.NewFetch(url, "all retries exhausted", err)
	}
	return body, nil
}

// waitDelay sleeps a randomized interval within the configured window so
// page fetches are not evenly spaced. Returns false when cancelled.
func (s *Session) waitDelay(ctx context.Context) bool {
	delay := s.cfg.MinDelay
	if span := s.cfg.MaxDelay - s.cfg.MinDelay; span > 0 {
		delay += time.Duration(s.rnd.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// emit delivers a progress event without ever blocking on the consumer.
func (s *Session) emit(p listing.Progress) {
	select {
	case s.progress <- p:
	default:
	}
}
