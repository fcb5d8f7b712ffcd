package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sternrassler/gitlab-http-cache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, prometheus.DefaultRegisterer, Registry)
	assert.Equal(t, prometheus.DefaultGatherer, Gatherer)
}

func TestHandler_ExposesCacheMetrics(t *testing.T) {
	c := cache.NewValidatorCache()
	c.Put("k", `"v1"`)
	_, _ = c.Get("k")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "glcache_validator_hits_total")
	assert.Contains(t, string(body), "glcache_validator_entries")
}
