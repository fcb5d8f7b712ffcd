package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// GetJSON performs a GET for url and decodes the JSON body into T.
//
// On 304 the body stored in the executor's payload store is decoded
// instead. If there is none, ErrNotModified is returned together with the
// Result so callers that still display a copy can keep it.
func GetJSON[T any](ctx context.Context, ex *Executor, url string, conditional bool) (T, *Result, error) {
	var zero T

	res, err := ex.Do(ctx, Request{
		Method:      http.MethodGet,
		URL:         url,
		Conditional: conditional,
	})
	if err != nil {
		return zero, nil, err
	}

	body := res.Body
	if res.NotModified {
		payload, err := ex.Fallback(res)
		if err != nil {
			return zero, res, err
		}
		body = payload.Body
	}

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		glErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return zero, res, &DecodeError{URL: url, Err: err}
	}

	return v, res, nil
}

// IsNotModified reports whether err means a 304 arrived with no local payload.
func IsNotModified(err error) bool {
	return errors.Is(err, ErrNotModified)
}
