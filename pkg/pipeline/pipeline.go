package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/modguard/modguard/pkg/cache"
	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/infra/inference"
	"github.com/modguard/modguard/pkg/infra/prometheus"
	"github.com/modguard/modguard/pkg/ratelimit"
	"github.com/modguard/modguard/pkg/verdict"
)

// Limiter admits or rejects a client for an endpoint. Store failures are
// absorbed behind the Decision, never surfaced as errors.
type Limiter interface {
	Admit(ctx context.Context, identity, endpoint string) ratelimit.Decision
}

// Cache is the verdict cache consumed by the pipeline.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) ([]moderation.Verdict, bool)
	Store(ctx context.Context, fingerprint string, verdicts []moderation.Verdict, ttl time.Duration) error
}

// Auditor records completed moderation decisions. Best effort only.
type Auditor interface {
	Record(ctx context.Context, fingerprint string, flagged bool, cacheHit bool, latency time.Duration)
}

type Pipeline struct {
	limiter      Limiter
	cache        Cache
	inferencer   inference.Client
	aggregator   *verdict.Aggregator
	auditor      Auditor
	logger       *logrus.Logger
	cacheTTL     time.Duration
	singleFlight bool
	sf           singleflight.Group
}

type DI struct {
	Limiter      Limiter
	Cache        Cache
	Inferencer   inference.Client
	Aggregator   *verdict.Aggregator
	Auditor      Auditor
	Logger       *logrus.Logger
	CacheTTL     time.Duration
	SingleFlight bool
}

func New(di DI) *Pipeline {
	return &Pipeline{
		limiter:      di.Limiter,
		cache:        di.Cache,
		inferencer:   di.Inferencer,
		aggregator:   di.Aggregator,
		auditor:      di.Auditor,
		logger:       di.Logger,
		cacheTTL:     di.CacheTTL,
		singleFlight: di.SingleFlight,
	}
}

// Process runs one request through admission, cache lookup, inference,
// aggregation, and cache store. It returns a RateLimitedError when the
// limiter rejects, an InferenceError when the classifier fails, and a
// Result otherwise.
func (p *Pipeline) Process(ctx context.Context, clientID, endpoint string, req *moderation.Request) (*moderation.Result, error) {
	start := time.Now()

	decision := p.limiter.Admit(ctx, clientID, endpoint)
	if !decision.Allowed {
		return nil, moderation.NewRateLimitedError(decision.RetryAfter)
	}

	fingerprint := cache.Fingerprint(req.Items, req.Thresholds)

	if verdicts, ok := p.cache.Lookup(ctx, fingerprint); ok {
		result := &moderation.Result{Verdicts: verdicts, CacheHit: true}
		p.audit(fingerprint, result, time.Since(start))
		return result, nil
	}

	verdicts, err := p.computeAndStore(ctx, fingerprint, req)
	if err != nil {
		return nil, err
	}

	result := &moderation.Result{Verdicts: verdicts, CacheHit: false}
	p.audit(fingerprint, result, time.Since(start))
	return result, nil
}

func (p *Pipeline) computeAndStore(ctx context.Context, fingerprint string, req *moderation.Request) ([]moderation.Verdict, error) {
	if !p.singleFlight {
		return p.compute(ctx, fingerprint, req)
	}

	// Collapse concurrent identical misses into one inference call.
	// Correctness does not depend on this: recomputation is idempotent,
	// so a failed collapse just costs duplicate work.
	res, err, _ := p.sf.Do(fingerprint, func() (interface{}, error) {
		return p.compute(ctx, fingerprint, req)
	})
	if err != nil {
		// The collapsed call runs on the first caller's context. If that
		// caller went away, followers whose own context is still live
		// compute directly instead of inheriting the cancellation.
		if ctx.Err() == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return p.compute(ctx, fingerprint, req)
		}
		return nil, err
	}
	verdicts, ok := res.([]moderation.Verdict)
	if !ok {
		return p.compute(ctx, fingerprint, req)
	}
	return verdicts, nil
}

func (p *Pipeline) compute(ctx context.Context, fingerprint string, req *moderation.Request) ([]moderation.Verdict, error) {
	verdicts := make([]moderation.Verdict, 0, len(req.Items))
	for _, item := range req.Items {
		scores, err := p.inferencer.Infer(ctx, item)
		if err != nil {
			// Failures are never memoized as cacheable results.
			return nil, err
		}
		v := p.aggregator.Aggregate(scores, req.Thresholds)
		for category, cs := range v.Categories {
			if cs.Flagged {
				prometheus.FlaggedTotal.WithLabelValues(category).Inc()
			}
		}
		verdicts = append(verdicts, v)
	}

	// Best effort: a failed cache write never fails the request.
	if err := p.cache.Store(ctx, fingerprint, verdicts, p.cacheTTL); err != nil {
		p.logger.WithError(err).WithField("fingerprint", fingerprint).
			Warn("failed to store verdicts in cache")
	}
	return verdicts, nil
}

func (p *Pipeline) audit(fingerprint string, result *moderation.Result, latency time.Duration) {
	if p.auditor == nil {
		return
	}
	flagged := false
	for _, v := range result.Verdicts {
		if v.Flagged {
			flagged = true
			break
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.auditor.Record(ctx, fingerprint, flagged, result.CacheHit, latency)
	}()
}
