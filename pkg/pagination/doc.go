// Package pagination merges and fetches paginated GitLab list endpoints.
//
// GitLab paginates with page/per_page query parameters and reports
// position in the X-Page, X-Next-Page and X-Total-Pages headers.
// X-Total-Pages is omitted for very large collections.
//
// Merge combines a new page into an existing list by stable identity:
//
//	items = pagination.Merge(items, page, func(i Issue) int { return i.ID }, 500)
//
// Existing items always win over incoming ones with the same identity and
// the result keeps the newest maxCount items.
//
// Feed keeps the displayed state of one list endpoint and loads pages with
// conditional GET. A 304 for a page the feed already merged changes
// nothing; a 304 for a page it never showed is fetched again in full:
//
//	feed := pagination.NewFeed(executor, projectIssuesURL, Issue.Key, pagination.FeedConfig{PerPage: 50})
//	changed, err := feed.Next(ctx)
//
// BatchFetcher loads every page of an endpoint with a worker pool:
//
//	fetcher := pagination.NewBatchFetcher(pagination.NewExecutorPageFetcher(executor, 100, true), pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, projectIssuesURL)
package pagination
