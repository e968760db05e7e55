package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/common"
	"github.com/modguard/modguard/pkg/infra/prometheus"
)

// Decision is the outcome of a sliding-window admission check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	// Degraded is set when the backing store was unreachable and the
	// limiter fell back to its configured degradation policy.
	Degraded bool
}

// admitScript runs the whole purge-count-insert sequence server-side so
// concurrent requests from the same client cannot both take the last slot.
// Returns {allowed, count, retry_after_seconds}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local expiry = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local retry = window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	if retry < 1 then
		retry = 1
	end
	return {0, count, retry}
end
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, expiry)
return {1, count + 1, 0}
`)

type SlidingWindowLimiter struct {
	redis        *redis.Client
	logger       *logrus.Logger
	limit        int
	window       time.Duration
	storeTimeout time.Duration
	failClosed   bool
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
}

type Opts struct {
	TimeProvider func() time.Time
	UuidProvider func() uuid.UUID
}

func NewSlidingWindowLimiter(
	redisClient *redis.Client,
	logger *logrus.Logger,
	limit int,
	window time.Duration,
	storeTimeout time.Duration,
	failClosed bool,
	opts *Opts,
) *SlidingWindowLimiter {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UuidProvider != nil {
		uuidProvider = opts.UuidProvider
	}
	return &SlidingWindowLimiter{
		redis:        redisClient,
		logger:       logger,
		limit:        limit,
		window:       window,
		storeTimeout: storeTimeout,
		failClosed:   failClosed,
		timeProvider: timeProvider,
		uuidProvider: uuidProvider,
	}
}

// Admit checks and records one request for the given client identity and
// endpoint. Store errors never propagate: they degrade to the configured
// fail-open or fail-closed policy.
func (l *SlidingWindowLimiter) Admit(ctx context.Context, identity, endpoint string) Decision {
	if l.limit == 0 {
		return Decision{Allowed: false, RetryAfter: l.window}
	}

	now := l.timeProvider()
	key := fmt.Sprintf("ratelimit:%s:%s", identity, endpoint)
	member := fmt.Sprintf("%d:%s", now.Unix(), l.uuidProvider().String())
	expiry := int64((l.window + common.RateLimitKeyExpiryMargin) / time.Second)

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	res, err := admitScript.Run(ctx, l.redis, []string{key},
		now.Unix(),
		int64(l.window/time.Second),
		l.limit,
		member,
		expiry,
	).Result()
	if err != nil {
		return l.degraded(identity, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return l.degraded(identity, fmt.Errorf("unexpected script result %v", res))
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	retry, _ := vals[2].(int64)

	if allowed != 1 {
		prometheus.LimiterRejections.WithLabelValues(endpoint).Inc()
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(retry) * time.Second,
		}
	}
	return Decision{Allowed: true, Remaining: int64(l.limit) - count}
}

func (l *SlidingWindowLimiter) degraded(identity string, err error) Decision {
	if l.failClosed {
		l.logger.WithError(err).WithField("identity", identity).
			Warn("rate limit store unavailable, rejecting (fail-closed)")
		return Decision{Allowed: false, RetryAfter: l.window, Degraded: true}
	}
	l.logger.WithError(err).WithField("identity", identity).
		Warn("rate limit store unavailable, admitting (fail-open)")
	return Decision{Allowed: true, Degraded: true}
}
