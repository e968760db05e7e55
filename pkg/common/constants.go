package common

import "time"

const (
	ModerateEndpoint = "/v1/moderate"

	CacheHeader      = "X-Cache"
	CacheHeaderHit   = "HIT"
	CacheHeaderMiss  = "MISS"
	RetryAfterHeader = "Retry-After"

	// Safety margin added to the rate-limit key expiry so abandoned
	// keys self-clean shortly after the window closes.
	RateLimitKeyExpiryMargin = 10 * time.Second
)
