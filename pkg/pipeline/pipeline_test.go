package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/modguard/modguard/pkg/cache"
	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/pipeline"
	"github.com/modguard/modguard/pkg/ratelimit"
	"github.com/modguard/modguard/pkg/verdict"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Admit(ctx context.Context, identity, endpoint string) ratelimit.Decision {
	args := m.Called(ctx, identity, endpoint)
	return args.Get(0).(ratelimit.Decision)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Lookup(ctx context.Context, fingerprint string) ([]moderation.Verdict, bool) {
	args := m.Called(ctx, fingerprint)
	verdicts, _ := args.Get(0).([]moderation.Verdict)
	return verdicts, args.Bool(1)
}

func (m *mockCache) Store(ctx context.Context, fingerprint string, verdicts []moderation.Verdict, ttl time.Duration) error {
	args := m.Called(ctx, fingerprint, verdicts, ttl)
	return args.Error(0)
}

type mockInferencer struct {
	mock.Mock
}

func (m *mockInferencer) Infer(ctx context.Context, item moderation.ContentItem) (moderation.RawScores, error) {
	args := m.Called(ctx, item)
	scores, _ := args.Get(0).(moderation.RawScores)
	return scores, args.Error(1)
}

func testAggregator(t *testing.T) *verdict.Aggregator {
	t.Helper()
	agg, err := verdict.NewAggregator(
		map[string][]string{
			"harassment": {"toxic", "insult"},
			"violence":   {"threat"},
		},
		map[string]float64{
			"harassment": 0.7,
			"violence":   0.6,
		},
	)
	require.NoError(t, err)
	return agg
}

func allowed() ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Remaining: 10}
}

func textRequest(text string) *moderation.Request {
	return &moderation.Request{
		Items: []moderation.ContentItem{
			{Kind: moderation.ContentKindText, Text: text},
		},
	}
}

func newTestPipeline(limiter *mockLimiter, cache *mockCache, inferencer *mockInferencer, t *testing.T) *pipeline.Pipeline {
	return pipeline.New(pipeline.DI{
		Limiter:    limiter,
		Cache:      cache,
		Inferencer: inferencer,
		Aggregator: testAggregator(t),
		Logger:     logrus.New(),
		CacheTTL:   time.Hour,
	})
}

func TestPipeline_CacheHitSkipsInference(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	cached := []moderation.Verdict{{Flagged: true}}
	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(cached, true)

	p := newTestPipeline(limiter, cache, inferencer, t)
	result, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))

	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, cached, result.Verdicts)
	inferencer.AssertNotCalled(t, "Infer")
	cache.AssertNotCalled(t, "Store")
}

func TestPipeline_CacheMissInfersAndStores(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(moderation.RawScores{"toxic": 0.9, "threat": 0.1}, nil)
	cache.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour).Return(nil)

	p := newTestPipeline(limiter, cache, inferencer, t)
	result, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))

	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	require.Len(t, result.Verdicts, 1)
	assert.True(t, result.Verdicts[0].Flagged)
	assert.True(t, result.Verdicts[0].Categories["harassment"].Flagged)
	assert.False(t, result.Verdicts[0].Categories["violence"].Flagged)
	cache.AssertCalled(t, "Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour)
}

func TestPipeline_LimiterRejectionReturnsRateLimitedError(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").
		Return(ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second})

	p := newTestPipeline(limiter, cache, inferencer, t)
	_, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))

	var rle *moderation.RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)
	cache.AssertNotCalled(t, "Lookup")
	inferencer.AssertNotCalled(t, "Infer")
}

func TestPipeline_InferenceFailureNeverCached(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(nil, moderation.NewInferenceError("classifier call failed", errors.New("boom")))

	p := newTestPipeline(limiter, cache, inferencer, t)
	_, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))

	var ie *moderation.InferenceError
	require.ErrorAs(t, err, &ie)
	cache.AssertNotCalled(t, "Store")
}

func TestPipeline_CacheStoreFailureDoesNotFailRequest(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(moderation.RawScores{"toxic": 0.1}, nil)
	cache.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour).
		Return(errors.New("store down"))

	p := newTestPipeline(limiter, cache, inferencer, t)
	result, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))

	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	require.Len(t, result.Verdicts, 1)
	assert.False(t, result.Verdicts[0].Flagged)
}

func TestPipeline_MultiItemRequestYieldsVerdictPerItem(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	req := &moderation.Request{
		Items: []moderation.ContentItem{
			{Kind: moderation.ContentKindText, Text: "benign"},
			{Kind: moderation.ContentKindText, Text: "hostile"},
		},
	}

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, req.Items[0]).
		Return(moderation.RawScores{"toxic": 0.05}, nil)
	inferencer.On("Infer", mock.Anything, req.Items[1]).
		Return(moderation.RawScores{"threat": 0.95}, nil)
	cache.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour).Return(nil)

	p := newTestPipeline(limiter, cache, inferencer, t)
	result, err := p.Process(context.Background(), "client-a", "/v1/moderate", req)

	require.NoError(t, err)
	require.Len(t, result.Verdicts, 2)
	assert.False(t, result.Verdicts[0].Flagged)
	assert.True(t, result.Verdicts[1].Flagged)
	assert.True(t, result.Verdicts[1].Categories["violence"].Flagged)
}

// A collapsed inference call cancelled through its originating request
// must not poison followers whose own context is still live: they retry
// the computation directly.
func TestPipeline_SingleFlightRecomputesAfterLeaderCancellation(t *testing.T) {
	limiter := new(mockLimiter)
	cacheMock := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, "client-a", "/v1/moderate").Return(allowed())
	cacheMock.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(nil, moderation.NewInferenceError("classifier call failed", context.Canceled)).Once()
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(moderation.RawScores{"toxic": 0.9}, nil)
	cacheMock.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour).Return(nil)

	p := pipeline.New(pipeline.DI{
		Limiter:      limiter,
		Cache:        cacheMock,
		Inferencer:   inferencer,
		Aggregator:   testAggregator(t),
		Logger:       logrus.New(),
		CacheTTL:     time.Hour,
		SingleFlight: true,
	})

	result, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("hello"))
	require.NoError(t, err)
	require.Len(t, result.Verdicts, 1)
	assert.True(t, result.Verdicts[0].Flagged)
	inferencer.AssertNumberOfCalls(t, "Infer", 2)
}

// Store fully down: the real limiter fails open and the real cache treats
// every lookup as a miss, so every request recomputes and succeeds.
func TestPipeline_StoreOutageDegradesGracefully(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	logger := logrus.New()
	limiter := ratelimit.NewSlidingWindowLimiter(client, logger, 2, time.Second, time.Second, false, nil)
	verdictCache := cache.NewVerdictCache(client, logger, time.Second)

	inferencer := new(mockInferencer)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(moderation.RawScores{"toxic": 0.1}, nil)

	p := pipeline.New(pipeline.DI{
		Limiter:    limiter,
		Cache:      verdictCache,
		Inferencer: inferencer,
		Aggregator: testAggregator(t),
		Logger:     logger,
		CacheTTL:   time.Hour,
	})

	for i := 0; i < 150; i++ {
		result, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("same text"))
		require.NoError(t, err, "request %d", i+1)
		assert.False(t, result.CacheHit)
	}
	inferencer.AssertNumberOfCalls(t, "Infer", 150)
}

func TestPipeline_ConcurrentIdenticalRequestsAgree(t *testing.T) {
	limiter := new(mockLimiter)
	cache := new(mockCache)
	inferencer := new(mockInferencer)

	limiter.On("Admit", mock.Anything, mock.Anything, mock.Anything).Return(allowed())
	cache.On("Lookup", mock.Anything, mock.AnythingOfType("string")).Return(nil, false)
	inferencer.On("Infer", mock.Anything, mock.Anything).
		Return(moderation.RawScores{"toxic": 0.8}, nil)
	cache.On("Store", mock.Anything, mock.AnythingOfType("string"), mock.Anything, time.Hour).Return(nil)

	p := pipeline.New(pipeline.DI{
		Limiter:      limiter,
		Cache:        cache,
		Inferencer:   inferencer,
		Aggregator:   testAggregator(t),
		Logger:       logrus.New(),
		CacheTTL:     time.Hour,
		SingleFlight: true,
	})

	var wg sync.WaitGroup
	results := make([]*moderation.Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Process(context.Background(), "client-a", "/v1/moderate", textRequest("same text"))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.Len(t, res.Verdicts, 1)
		assert.True(t, res.Verdicts[0].Flagged)
		assert.Equal(t, results[0].Verdicts[0].Categories, res.Verdicts[0].Categories)
	}
}
