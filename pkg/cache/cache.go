package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/infra/prometheus"
)

const verdictKeyPattern = "modcache:%s"

// entry is the stored shape: never mutated after creation, replaced
// wholesale when a lookup after expiry triggers recomputation.
type entry struct {
	Verdicts []moderation.Verdict `json:"verdicts"`
}

// VerdictCache maps request fingerprints to previously computed verdicts
// with store-native expiration. A store outage degrades to always-Miss,
// never to a stale or incorrect Hit.
type VerdictCache struct {
	client       *redis.Client
	logger       *logrus.Logger
	storeTimeout time.Duration
}

func NewVerdictCache(client *redis.Client, logger *logrus.Logger, storeTimeout time.Duration) *VerdictCache {
	return &VerdictCache{
		client:       client,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

// Lookup reports the cached verdicts for a fingerprint, or a miss when
// the entry is absent, expired, or the store is unreachable.
func (c *VerdictCache) Lookup(ctx context.Context, fingerprint string) ([]moderation.Verdict, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, fmt.Sprintf(verdictKeyPattern, fingerprint)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("cache store unavailable, treating as miss")
		}
		prometheus.CacheMisses.Inc()
		return nil, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.WithError(err).WithField("fingerprint", fingerprint).
			Warn("corrupt cache entry, treating as miss")
		prometheus.CacheMisses.Inc()
		return nil, false
	}

	prometheus.CacheHits.Inc()
	return e.Verdicts, true
}

// Store writes the computed verdicts under the fingerprint with the given
// TTL. Results are idempotent functions of the request, so a concurrent
// last-writer-wins race is safe.
func (c *VerdictCache) Store(ctx context.Context, fingerprint string, verdicts []moderation.Verdict, ttl time.Duration) error {
	data, err := json.Marshal(entry{Verdicts: verdicts})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	if err := c.client.Set(ctx, fmt.Sprintf(verdictKeyPattern, fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}
