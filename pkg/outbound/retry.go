package outbound

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/maestro-agent/maestro/pkg/config"
)

// retryAfterHint extracts a Retry-After delay from a failed attempt, clamped
// to the configured [floor, ceiling] range. The header carries either a
// seconds count or an HTTP date.
func retryAfterHint(err error, cfg *config.ServiceConfig) (time.Duration, bool) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Header == nil {
		return 0, false
	}
	raw := reqErr.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}

	if d < cfg.RetryAfterLo {
		d = cfg.RetryAfterLo
	}
	if d > cfg.RetryAfterHi {
		d = cfg.RetryAfterHi
	}
	return d, true
}

// backoffDelay computes the exponential backoff for a retry attempt
// (0-based): base * 2^attempt capped at RetryMax, plus uniform jitter.
func backoffDelay(attempt int, cfg *config.ServiceConfig) time.Duration {
	d := cfg.RetryBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMax {
			d = cfg.RetryMax
			break
		}
	}
	if d > cfg.RetryMax {
		d = cfg.RetryMax
	}
	if cfg.RetryJitter > 0 {
		d += time.Duration(rand.Int64N(int64(cfg.RetryJitter)))
	}
	return d
}

// retryDelay picks the wait before the next attempt: the Retry-After hint
// when the server sent one, exponential backoff otherwise.
func retryDelay(err error, attempt int, cfg *config.ServiceConfig) time.Duration {
	if d, ok := retryAfterHint(err, cfg); ok {
		return d
	}
	return backoffDelay(attempt, cfg)
}
