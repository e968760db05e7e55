package http

import (
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/handlers/http/response"
)

type healthHandler struct {
	logger    *logrus.Logger
	redis     *redis.Client
	startedAt time.Time
}

func NewHealthHandler(logger *logrus.Logger, redisClient *redis.Client) Handler {
	return &healthHandler{
		logger:    logger,
		redis:     redisClient,
		startedAt: time.Now(),
	}
}

// Handle reports overall service health. A store outage degrades the
// status but never fails the check: the pipeline still serves requests.
func (h *healthHandler) Handle(c *fiber.Ctx) error {
	components := make(map[string]response.ComponentStatus)
	components["api"] = response.ComponentStatus{Status: "operational"}

	status := "healthy"
	pingStart := time.Now()
	if err := h.redis.Ping(c.Context()).Err(); err != nil {
		h.logger.WithError(err).Warn("health check: redis unavailable, running degraded")
		components["redis"] = response.ComponentStatus{Status: "unavailable"}
		status = "degraded"
	} else {
		latency := time.Since(pingStart).Milliseconds()
		components["redis"] = response.ComponentStatus{Status: "operational", LatencyMs: &latency}
	}

	return c.Status(fiber.StatusOK).JSON(response.HealthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Components:    components,
	})
}
