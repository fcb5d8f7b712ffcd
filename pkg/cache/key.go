package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// CacheKey identifies a request target for validator lookups.
type CacheKey struct {
	// Scheme is the URL scheme ("https" for gitlab.com)
	Scheme string

	// Host is the API host, optionally with port (e.g., "gitlab.com")
	Host string

	// Path is the resource path (e.g., "/api/v4/projects")
	Path string

	// QueryParams are the query parameters (e.g., {"page": "2"})
	QueryParams url.Values
}

// KeyFromURL builds the cache key for an absolute URL.
// The fragment and user info are ignored.
func KeyFromURL(u *url.URL) CacheKey {
	if u == nil {
		return CacheKey{}
	}
	return CacheKey{
		Scheme:      u.Scheme,
		Host:        u.Host,
		Path:        u.EscapedPath(),
		QueryParams: u.Query(),
	}
}

// KeyFromRequest builds the cache key for an outgoing request.
func KeyFromRequest(req *http.Request) CacheKey {
	if req == nil {
		return CacheKey{}
	}
	return KeyFromURL(req.URL)
}

// String generates the canonical cache key string.
// Format: scheme://host/path?a=1&b=2 with query names sorted and the values
// of a repeated name kept in request order.
//
// Example:
//
//	https://gitlab.com/api/v4/projects?order_by=id&page=2
func (k CacheKey) String() string {
	var b strings.Builder

	scheme := strings.ToLower(k.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(strings.ToLower(k.Host))

	path := k.Path
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	// url.Values.Encode sorts by name
	if len(k.QueryParams) > 0 {
		b.WriteByte('?')
		b.WriteString(k.QueryParams.Encode())
	}

	return b.String()
}
