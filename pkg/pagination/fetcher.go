package pagination

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/gitlab-http-cache/pkg/client"
)

// GitLab pagination headers.
const (
	HeaderTotalPages = "X-Total-Pages"
	HeaderNextPage   = "X-Next-Page"
)

// DefaultPerPage is the page size requested when none is configured.
const DefaultPerPage = 20

// Page is one fetched page of a list endpoint.
type Page struct {
	Number int
	Data   []byte

	// TotalPages is 0 when the server did not report it (GitLab omits
	// X-Total-Pages for very large collections)
	TotalPages int

	// NextPage is 0 on the last page
	NextPage int

	// NotModified is true when Data was replayed from the payload store
	NotModified bool
}

// PageFetcher fetches a single page of an endpoint.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, pageNum int) (*Page, error)
}

// ExecutorPageFetcher fetches pages through a client.Executor using
// page/per_page query parameters.
type ExecutorPageFetcher struct {
	executor    *client.Executor
	perPage     int
	conditional bool
}

// NewExecutorPageFetcher creates a page fetcher. perPage <= 0 uses DefaultPerPage.
func NewExecutorPageFetcher(executor *client.Executor, perPage int, conditional bool) *ExecutorPageFetcher {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return &ExecutorPageFetcher{
		executor:    executor,
		perPage:     perPage,
		conditional: conditional,
	}
}

// FetchPage implements PageFetcher.
// A 304 is answered from the executor's payload store; without one
// client.ErrNotModified is returned.
func (f *ExecutorPageFetcher) FetchPage(ctx context.Context, endpoint string, pageNum int) (*Page, error) {
	pageURL, err := PageURL(endpoint, pageNum, f.perPage)
	if err != nil {
		return nil, err
	}

	res, err := f.executor.Do(ctx, client.Request{
		Method:      http.MethodGet,
		URL:         pageURL,
		Conditional: f.conditional,
	})
	if err != nil {
		return nil, err
	}

	if res.NotModified {
		payload, err := f.executor.Fallback(res)
		if err != nil {
			return nil, err
		}
		page := parsePageHeaders(payload.Header, pageNum)
		page.Data = payload.Body
		page.NotModified = true
		return page, nil
	}

	page := parsePageHeaders(res.Header, pageNum)
	page.Data = res.Body
	return page, nil
}

// PageURL sets the page and per_page query parameters on endpoint.
func PageURL(endpoint string, pageNum, perPage int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parsePageHeaders(h http.Header, pageNum int) *Page {
	page := &Page{Number: pageNum}
	if h == nil {
		return page
	}
	page.TotalPages, _ = strconv.Atoi(h.Get(HeaderTotalPages))
	page.NextPage, _ = strconv.Atoi(h.Get(HeaderNextPage))
	return page
}
