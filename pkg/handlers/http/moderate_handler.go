package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/common"
	"github.com/modguard/modguard/pkg/domain/moderation"
	"github.com/modguard/modguard/pkg/handlers/http/request"
	"github.com/modguard/modguard/pkg/handlers/http/response"
	"github.com/modguard/modguard/pkg/verdict"
)

// ModerationPipeline is the pipeline surface consumed by the handler.
type ModerationPipeline interface {
	Process(ctx context.Context, clientID, endpoint string, req *moderation.Request) (*moderation.Result, error)
}

type moderateHandler struct {
	logger     *logrus.Logger
	pipeline   ModerationPipeline
	aggregator *verdict.Aggregator
}

func NewModerateHandler(logger *logrus.Logger, pipeline ModerationPipeline, aggregator *verdict.Aggregator) Handler {
	return &moderateHandler{
		logger:     logger,
		pipeline:   pipeline,
		aggregator: aggregator,
	}
}

func (h *moderateHandler) Handle(c *fiber.Ctx) error {
	start := time.Now()

	var req request.ModerateRequest
	if err := c.BodyParser(&req); err != nil {
		return h.validationError(c, "invalid request body: "+err.Error())
	}

	domainReq, err := req.ToDomain()
	if err != nil {
		return h.validationError(c, err.Error())
	}
	if err := h.aggregator.ValidateOverrides(domainReq.Thresholds); err != nil {
		return h.validationError(c, err.Error())
	}

	clientID, ok := c.Locals(common.ClientIPContextKey).(string)
	if !ok || clientID == "" {
		clientID = c.IP()
	}

	result, err := h.pipeline.Process(c.UserContext(), clientID, c.Path(), domainReq)
	if err != nil {
		return h.pipelineError(c, err)
	}

	cacheHeader := common.CacheHeaderMiss
	if result.CacheHit {
		cacheHeader = common.CacheHeaderHit
	}
	c.Set(common.CacheHeader, cacheHeader)

	return c.Status(fiber.StatusOK).JSON(buildResponse(result, req.WantScores(), start))
}

func (h *moderateHandler) pipelineError(c *fiber.Ctx, err error) error {
	var rateLimited *moderation.RateLimitedError
	if errors.As(err, &rateLimited) {
		retryAfter := int64(rateLimited.RetryAfter / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(common.RetryAfterHeader, strconv.FormatInt(retryAfter, 10))
		return c.Status(fiber.StatusTooManyRequests).JSON(response.ErrorResponseWrapper{
			Error: response.ErrorResponse{
				Type:      "rate_limit_exceeded",
				Message:   "rate limit exceeded",
				RequestID: uuid.New().String(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	var inferenceErr *moderation.InferenceError
	if errors.As(err, &inferenceErr) {
		h.logger.WithError(err).Error("inference failed")
		return c.Status(fiber.StatusBadGateway).JSON(response.ErrorResponseWrapper{
			Error: response.ErrorResponse{
				Type:      "inference_failed",
				Message:   inferenceErr.Reason,
				RequestID: uuid.New().String(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	h.logger.WithError(err).Error("moderation pipeline failed")
	return c.Status(fiber.StatusInternalServerError).JSON(response.ErrorResponseWrapper{
		Error: response.ErrorResponse{
			Type:      "internal_error",
			Message:   "an unexpected error occurred",
			RequestID: uuid.New().String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *moderateHandler) validationError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(response.ErrorResponseWrapper{
		Error: response.ErrorResponse{
			Type:      "validation_error",
			Message:   message,
			RequestID: uuid.New().String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func buildResponse(result *moderation.Result, wantScores bool, start time.Time) response.ModerateResponse {
	results := make([]response.ModerationResult, 0, len(result.Verdicts))
	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range result.Verdicts {
		item := response.ModerationResult{
			RequestID:  uuid.New().String(),
			Flagged:    v.Flagged,
			Categories: make(map[string]bool, len(v.Categories)),
			Timestamp:  now,
		}
		if wantScores {
			item.CategoryScores = make(map[string]float64, len(v.Categories))
		}
		for category, cs := range v.Categories {
			item.Categories[category] = cs.Flagged
			if wantScores {
				item.CategoryScores[category] = cs.Score
			}
		}
		results = append(results, item)
	}
	return response.ModerateResponse{
		Results:          results,
		TotalItems:       len(results),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Cached:           result.CacheHit,
	}
}
