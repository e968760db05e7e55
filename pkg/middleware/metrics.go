package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/infra/prometheus"
)

type metricsMiddleware struct {
	logger *logrus.Logger
}

func NewMetricsMiddleware(logger *logrus.Logger) Middleware {
	return &metricsMiddleware{logger: logger}
}

func (m *metricsMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()
		err := ctx.Next()

		status := ctx.Response().StatusCode()
		prometheus.RequestTotal.WithLabelValues(ctx.Method(), strconv.Itoa(status)).Inc()
		prometheus.RequestLatency.WithLabelValues(ctx.Path()).
			Observe(float64(time.Since(start).Milliseconds()))
		return err
	}
}
