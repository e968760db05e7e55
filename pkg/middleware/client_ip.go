package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modguard/modguard/pkg/common"
)

// ipHeaders in order of preference. Proxies ahead of us set these.
var ipHeaders = []string{
	"X-Real-IP",
	"X-Forwarded-For",
	"True-Client-IP",
	"CF-Connecting-IP",
}

type clientIPMiddleware struct {
	logger *logrus.Logger
}

func NewClientIPMiddleware(logger *logrus.Logger) Middleware {
	return &clientIPMiddleware{logger: logger}
}

// Middleware resolves the client identity used as the rate-limiter
// partition key and stamps a trace id on the request context.
func (m *clientIPMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		clientIP := ctx.IP()
		for _, header := range ipHeaders {
			if v := ctx.Get(header); v != "" {
				clientIP = v
				break
			}
		}
		ctx.Locals(common.ClientIPContextKey, clientIP)

		traceID := uuid.New().String()
		ctx.Locals(common.TraceIdKey, traceID)

		c := context.WithValue(ctx.Context(), common.ClientIPContextKey, clientIP)
		c = context.WithValue(c, common.TraceIdKey, traceID)
		ctx.SetUserContext(c)
		return ctx.Next()
	}
}
