package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Sternrassler/gitlab-http-cache/pkg/client"
	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FeedConfig configures a Feed.
type FeedConfig struct {
	// PerPage is the requested page size (default DefaultPerPage)
	PerPage int

	// MaxCount bounds the retained items; 0 keeps everything
	MaxCount int

	// Logger defaults to the global logger with component=feed
	Logger *zerolog.Logger
}

// Feed is the displayed state of a paginated list endpoint.
//
// Pages are requested with conditional GET. A 304 whose body is not in the
// payload store leaves the feed unchanged when the feed already merged that
// page. For a page it never merged, for example one another caller of the
// same executor fetched first, the page is requested again without a
// validator.
type Feed[T any, K comparable] struct {
	mu       sync.Mutex
	fetcher  PageFetcher
	refetch  PageFetcher
	endpoint string
	id       func(T) K
	maxCount int
	logger   zerolog.Logger

	items    []T
	shown    map[int]struct{}
	nextPage int
	done     bool
}

// NewFeed creates a feed over endpoint, an absolute list URL.
func NewFeed[T any, K comparable](executor *client.Executor, endpoint string, id func(T) K, cfg FeedConfig) *Feed[T, K] {
	logger := log.With().Str("component", logging.ComponentFeed).Str("endpoint", endpoint).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Feed[T, K]{
		fetcher:  NewExecutorPageFetcher(executor, cfg.PerPage, true),
		refetch:  NewExecutorPageFetcher(executor, cfg.PerPage, false),
		endpoint: endpoint,
		id:       id,
		maxCount: cfg.MaxCount,
		logger:   logger,
		shown:    make(map[int]struct{}),
		nextPage: 1,
	}
}

// Next loads the next page and merges it into the feed.
// Returns true if the displayed items changed.
func (f *Feed[T, K]) Next(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return false, nil
	}

	page, changed, err := f.load(ctx, f.nextPage)
	if err != nil || page == nil {
		return false, err
	}

	f.advance(page)
	return changed, nil
}

// advance moves past page. Caller holds mu.
func (f *Feed[T, K]) advance(page *Page) {
	if page.NextPage > 0 {
		f.nextPage = page.NextPage
	} else {
		f.done = true
	}
}

// Refresh reloads the first page and merges items not yet shown.
// Returns true if the displayed items changed.
func (f *Feed[T, K]) Refresh(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page, changed, err := f.load(ctx, 1)
	if err != nil {
		return false, err
	}
	if page != nil && f.nextPage == 1 {
		f.advance(page)
	}
	return changed, nil
}

// load fetches pageNum and merges it. A nil page with nil error means the
// server reported no change for a page the feed already merged. Caller holds mu.
func (f *Feed[T, K]) load(ctx context.Context, pageNum int) (*Page, bool, error) {
	page, err := f.fetcher.FetchPage(ctx, f.endpoint, pageNum)
	if client.IsNotModified(err) {
		if _, ok := f.shown[pageNum]; ok {
			f.logger.Debug().Int("page", pageNum).Msg("Page not modified, keeping displayed items")
			return nil, false, nil
		}
		f.logger.Debug().Int("page", pageNum).Msg("Page not modified but never shown, refetching")
		page, err = f.refetch.FetchPage(ctx, f.endpoint, pageNum)
	}
	if err != nil {
		return nil, false, err
	}

	var incoming []T
	if err := json.Unmarshal(page.Data, &incoming); err != nil {
		return nil, false, &client.DecodeError{URL: f.endpoint, Err: fmt.Errorf("page %d: %w", pageNum, err)}
	}

	merged := Merge(f.items, incoming, f.id, 0)
	changed := len(merged) > len(f.items)
	if f.maxCount > 0 && len(merged) > f.maxCount {
		merged = merged[len(merged)-f.maxCount:]
	}
	f.items = merged
	f.shown[pageNum] = struct{}{}

	f.logger.Debug().
		Int("page", pageNum).
		Int("incoming", len(incoming)).
		Int("items", len(f.items)).
		Bool("replayed", page.NotModified).
		Msg("Merged page")

	return page, changed, nil
}

// Items returns a copy of the displayed items.
func (f *Feed[T, K]) Items() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.items...)
}

// HasMore reports whether another page is available.
func (f *Feed[T, K]) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.done
}

// Reset drops all items and starts again from the first page.
func (f *Feed[T, K]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	f.shown = make(map[int]struct{})
	f.nextPage = 1
	f.done = false
}
