package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	// GitLab.com allows 2000 authenticated API requests per minute.
	MaxConcurrency int

	// Timeout per page fetch
	Timeout time.Duration

	// BufferSize for channels (default: estimated total pages)
	BufferSize int

	// MaxPages caps how many pages are followed when the total is unknown
	MaxPages int
}

// DefaultConfig returns safe default configuration for GitLab.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		Timeout:        15 * time.Second,
		BufferSize:     100,
		MaxPages:       1000,
	}
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", logging.ComponentBatchFetcher).Logger(),
	}
}

// FetchAllPages fetches all pages of an endpoint.
// When the first page reports X-Total-Pages the rest are fetched in
// parallel by a worker pool; otherwise X-Next-Page is followed sequentially.
// Returns map of pageNumber -> data for successful pages.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string) (map[int][]byte, error) {
	start := time.Now()

	first, err := bf.fetcher.FetchPage(ctx, endpoint, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int][]byte{1: first.Data}

	if first.TotalPages == 0 {
		return bf.followNextPages(ctx, endpoint, first, results, start)
	}

	totalPages := first.TotalPages
	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	if totalPages == 1 {
		bf.logger.Info().
			Str("endpoint", endpoint).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	// Canceled on the first worker error so the queue filler and the
	// remaining workers stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int, bf.config.BufferSize)
	pageResults := make(chan PageResult, bf.config.BufferSize)
	errs := make(chan error, bf.config.MaxConcurrency)

	// Fill page queue (skip page 1, already fetched)
	go func() {
		defer close(pageQueue)
		for page := 2; page <= totalPages; page++ {
			select {
			case pageQueue <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < bf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go bf.worker(ctx, cancel, endpoint, pageQueue, pageResults, errs, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
		close(errs)
	}()

	fetchedPages := 1
	for result := range pageResults {
		results[result.PageNumber] = result.Data
		fetchedPages++

		if fetchedPages%50 == 0 {
			bf.logger.Info().
				Int("fetched", fetchedPages).
				Int("total", totalPages).
				Float64("progress_pct", float64(fetchedPages)/float64(totalPages)*100).
				Msg("Fetch progress")
		}
	}

	if err := <-errs; err != nil {
		bf.logger.Warn().
			Err(err).
			Int("fetched_pages", fetchedPages).
			Int("total_pages", totalPages).
			Msg("Worker error - returning partial results")
		return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetchedPages, totalPages, err)
	}

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("fetch canceled (partial data: %d/%d pages): %w", fetchedPages, totalPages, err)
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", fetchedPages).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// followNextPages walks X-Next-Page links one page at a time.
func (bf *BatchFetcher) followNextPages(ctx context.Context, endpoint string, page *Page, results map[int][]byte, start time.Time) (map[int][]byte, error) {
	for page.NextPage > 0 && len(results) < bf.config.MaxPages {
		if _, dup := results[page.NextPage]; dup {
			return results, fmt.Errorf("pagination loop at page %d", page.NextPage)
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		next, err := bf.fetcher.FetchPage(pageCtx, endpoint, page.NextPage)
		cancel()
		if err != nil {
			return results, fmt.Errorf("fetch page %d (partial data: %d pages): %w", page.NextPage, len(results), err)
		}

		results[next.Number] = next.Data
		page = next
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete (sequential)")

	return results, nil
}

// worker processes pages from the queue. On a fetch error it reports the
// error and calls abort.
func (bf *BatchFetcher) worker(ctx context.Context, abort context.CancelFunc, endpoint string, pageQueue <-chan int, results chan<- PageResult, errs chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		select {
		case <-ctx.Done():
			bf.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		page, err := bf.fetcher.FetchPage(pageCtx, endpoint, pageNum)
		cancel()

		if err != nil {
			bf.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")

			// Non-blocking error send
			select {
			case errs <- err:
			default:
			}
			abort()
			return
		}

		select {
		case results <- PageResult{PageNumber: pageNum, Data: page.Data}:
		case <-ctx.Done():
			bf.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		bf.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
