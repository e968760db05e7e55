package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/infra/httpx"
	"github.com/modguard/modguard/pkg/infra/prometheus"
)

// Client invokes the external classifier: content in, named probability
// scores out. The model is an opaque collaborator; retries, if any, are
// its concern.
type Client interface {
	Infer(ctx context.Context, item moderation.ContentItem) (moderation.RawScores, error)
}

type classifyRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

type classifyResponse struct {
	Scores map[string]float64 `json:"scores"`
}

type httpInferenceClient struct {
	client   httpx.Client
	breaker  httpx.CircuitBreaker
	logger   *logrus.Logger
	endpoint string
}

type HTTPClientOpts struct {
	Endpoint        string
	Timeout         time.Duration
	BreakerTimeout  time.Duration
	BreakerFailures uint32
}

func NewHTTPClient(logger *logrus.Logger, client httpx.Client, opts HTTPClientOpts) Client {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &httpInferenceClient{
		client:   client,
		breaker:  httpx.NewCircuitBreaker("inference", opts.BreakerTimeout, opts.BreakerFailures),
		logger:   logger,
		endpoint: opts.Endpoint,
	}
}

func (c *httpInferenceClient) Infer(ctx context.Context, item moderation.ContentItem) (moderation.RawScores, error) {
	payload := classifyRequest{Type: string(item.Kind)}
	switch item.Kind {
	case moderation.ContentKindImage:
		payload.Data = base64.StdEncoding.EncodeToString(item.Image)
	default:
		payload.Text = item.Text
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, moderation.NewInferenceError("failed to marshal classify request", err)
	}

	var scores moderation.RawScores
	start := time.Now()
	err = c.breaker.Execute(func() error {
		var execErr error
		scores, execErr = c.sendClassifyRequest(ctx, jsonData)
		return execErr
	})
	prometheus.InferenceLatency.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		prometheus.InferenceFailures.Inc()
		return nil, moderation.NewInferenceError("classifier call failed", err)
	}
	return scores, nil
}

func (c *httpInferenceClient) sendClassifyRequest(ctx context.Context, jsonData []byte) (moderation.RawScores, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d: %s", httpResp.StatusCode, string(body))
	}

	var resp classifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classify response: %w", err)
	}
	if len(resp.Scores) == 0 {
		return nil, fmt.Errorf("classifier returned no scores")
	}
	return resp.Scores, nil
}
