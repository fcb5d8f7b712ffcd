package cache

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "simple path no params",
			key: CacheKey{
				Scheme: "https",
				Host:   "gitlab.com",
				Path:   "/api/v4/projects",
			},
			want: "https://gitlab.com/api/v4/projects",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Scheme: "https",
				Host:   "gitlab.com",
				Path:   "/api/v4/projects",
				QueryParams: url.Values{
					"page":     []string{"2"},
					"order_by": []string{"id"},
				},
			},
			want: "https://gitlab.com/api/v4/projects?order_by=id&page=2",
		},
		{
			name: "repeated param keeps value order",
			key: CacheKey{
				Scheme:      "https",
				Host:        "gitlab.com",
				Path:        "/api/v4/issues",
				QueryParams: url.Values{"labels[]": []string{"bug", "api"}},
			},
			want: "https://gitlab.com/api/v4/issues?labels%5B%5D=bug&labels%5B%5D=api",
		},
		{
			name: "host and scheme lowercased",
			key: CacheKey{
				Scheme: "HTTPS",
				Host:   "GitLab.Example.COM",
				Path:   "/api/v4/user",
			},
			want: "https://gitlab.example.com/api/v4/user",
		},
		{
			name: "empty path and scheme",
			key: CacheKey{
				Host: "gitlab.com",
			},
			want: "https://gitlab.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestKeyFromURL_Canonical(t *testing.T) {
	a, err := url.Parse("https://gitlab.com/api/v4/projects?page=2&per_page=20&order_by=id")
	require.NoError(t, err)
	b, err := url.Parse("https://gitlab.com/api/v4/projects?order_by=id&per_page=20&page=2#top")
	require.NoError(t, err)
	c, err := url.Parse("https://gitlab.com/api/v4/projects?order_by=id&per_page=20&page=3")
	require.NoError(t, err)

	assert.Equal(t, KeyFromURL(a).String(), KeyFromURL(b).String(), "logically identical requests must share a key")
	assert.NotEqual(t, KeyFromURL(a).String(), KeyFromURL(c).String())
}

func TestKeyFromURL_Nil(t *testing.T) {
	assert.Equal(t, CacheKey{}, KeyFromURL(nil))
	assert.Equal(t, CacheKey{}, KeyFromRequest(nil))
}

func TestKeyFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://gitlab.com/api/v4/users/42/projects?visibility=public", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.com/api/v4/users/42/projects?visibility=public", KeyFromRequest(req).String())
}
