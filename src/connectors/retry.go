package connectors

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// the order router runs its own backoff on top, keep the transport retries short
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second
)

// isRetryableResp retries transport errors, 5xx, 429 and 408.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= http.StatusInternalServerError && code <= 599 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
