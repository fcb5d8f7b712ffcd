package cache

import (
	"net/http"
)

const (
	// HeaderETag is the response header carrying the validator.
	HeaderETag = "ETag"

	// HeaderIfNoneMatch is the request precondition header.
	HeaderIfNoneMatch = "If-None-Match"
)

// AddConditionalHeaders sets If-None-Match to token on req.
// The token is sent verbatim, including quotes and weak prefix.
func AddConditionalHeaders(req *http.Request, token string) {
	if req == nil || token == "" {
		return
	}
	req.Header.Set(HeaderIfNoneMatch, token)
}

// ValidatorFromHeader returns the ETag in h exactly as received.
func ValidatorFromHeader(h http.Header) string {
	if h == nil {
		return ""
	}
	return h.Get(HeaderETag)
}
